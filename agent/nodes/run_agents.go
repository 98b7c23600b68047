package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	statex "github.com/tanpawarit/agent-orchestrator/agent/state"
	metricsx "github.com/tanpawarit/agent-orchestrator/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// AgentRunner invokes the configured agents and persists one result per agent.
type AgentRunner struct {
	Agents  []contractx.Agent
	Timeout time.Duration
	Store   statex.Store
	Metrics *metricsx.Metrics
	Now     func() time.Time
}

func RunAgents(ctx context.Context, in *GraphState, r AgentRunner) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	ctx = callerContext(ctx)

	var (
		results []contractx.AgentResult
		err     error
	)
	start := r.Now()
	switch in.Request.Mode {
	case contractx.ModeSequential:
		results, err = r.runSequential(ctx, in.Request)
	case contractx.ModeParallel:
		results, err = r.runParallel(ctx, in.Request)
	default:
		return nil, contractx.InvalidInput("unknown mode %q", in.Request.Mode)
	}
	if err != nil {
		return nil, err
	}

	in.Results = contractx.SortAgentResults(results)
	if in.Request.Mode == contractx.ModeParallel {
		in.Elapsed = r.Now().Sub(start)
	} else {
		for _, res := range in.Results {
			in.Elapsed += time.Duration(res.DurationMS) * time.Millisecond
		}
	}
	return in, nil
}

// runSequential keeps going after a failure; once ctx is done the remaining
// agents are recorded as timeouts without being called.
func (r AgentRunner) runSequential(ctx context.Context, req contractx.ProcessingRequest) ([]contractx.AgentResult, error) {
	results := make([]contractx.AgentResult, 0, len(r.Agents))
	for _, agent := range r.Agents {
		res := r.runOne(ctx, req, agent)
		if err := r.persist(ctx, req.ID, res); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r AgentRunner) runParallel(ctx context.Context, req contractx.ProcessingRequest) ([]contractx.AgentResult, error) {
	results := make([]contractx.AgentResult, len(r.Agents))

	// no WithContext: one agent's failure must not cancel its siblings
	var g errgroup.Group
	for i, agent := range r.Agents {
		g.Go(func() error {
			res := r.runOne(ctx, req, agent)
			results[i] = res
			return r.persist(ctx, req.ID, res)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r AgentRunner) runOne(ctx context.Context, req contractx.ProcessingRequest, agent contractx.Agent) contractx.AgentResult {
	name := agent.Name()
	res := contractx.AgentResult{RequestID: req.ID, Agent: name}

	start := r.Now()
	var agentErr *contractx.AgentError
	if err := ctx.Err(); err != nil {
		agentErr = contractx.NewAgentError(name, contractx.ErrorKindTimeout, "not started: %v", err)
	} else {
		payload, err := r.invoke(ctx, agent, req.Text)
		if err != nil {
			agentErr = err
		} else {
			res.Payload = &payload
		}
	}
	end := r.Now()

	res.DurationMS = end.Sub(start).Milliseconds()
	res.Timestamp = end.UTC()
	if agentErr != nil {
		res.Outcome = contractx.OutcomeFailure
		res.Error = agentErr
		log.Warn().
			Str("request_id", req.ID).
			Str("agent", string(name)).
			Str("kind", string(agentErr.Kind)).
			Str("error", agentErr.Message).
			Msg("agent failed")
	} else {
		res.Outcome = contractx.OutcomeSuccess
	}

	kind := ""
	if agentErr != nil {
		kind = string(agentErr.Kind)
	}
	r.Metrics.ObserveAgent(string(name), string(res.Outcome), kind, end.Sub(start))
	return res
}

func (r AgentRunner) invoke(ctx context.Context, agent contractx.Agent, text string) (contractx.AgentPayload, *contractx.AgentError) {
	name := agent.Name()
	agentCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		agentCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var (
		payload contractx.AgentPayload
		err     error
	)
	if recovered := panics.Try(func() { payload, err = agent.Run(agentCtx, text) }); recovered != nil {
		log.Error().
			Str("agent", string(name)).
			Str("stack", string(recovered.Stack)).
			Msg("agent panicked")
		return contractx.AgentPayload{}, contractx.NewAgentError(name, contractx.ErrorKindUnavailable, "agent panicked: %v", recovered.Value)
	}
	if err == nil {
		return payload, nil
	}
	if agentCtx.Err() != nil {
		return contractx.AgentPayload{}, contractx.NewAgentError(name, contractx.ErrorKindTimeout, "%v", err)
	}
	return contractx.AgentPayload{}, contractx.AsAgentError(name, err)
}

func (r AgentRunner) persist(ctx context.Context, requestID string, res contractx.AgentResult) error {
	if err := r.Store.AppendAgentResult(context.WithoutCancel(ctx), requestID, res); err != nil {
		return fmt.Errorf("append %s result: %w", res.Agent, err)
	}
	return nil
}
