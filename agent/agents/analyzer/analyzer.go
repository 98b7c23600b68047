// Package analyzer implements the text analysis agents: summarizer, sentiment
// and entity_extractor. Each one is a prompt → model → JSON parse graph whose
// output is validated and normalized before it becomes an AgentPayload.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	inferencex "github.com/tanpawarit/agent-orchestrator/pkg/inference"
)

// analyzer is the generic agent behind every analysis kind.
type analyzer[T any] struct {
	name     contractx.AgentName
	runner   compose.Runnable[map[string]any, structuredOutput[T]]
	finalize func(T) (contractx.AgentPayload, error)
}

var _ contractx.Agent = (*analyzer[summaryOutput])(nil)

func newAnalyzer[T any](
	ctx context.Context,
	name contractx.AgentName,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	userTemplate string,
	finalize func(T) (contractx.AgentPayload, error),
) (*analyzer[T], error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required for agent=%s", contractx.ErrValidation, name)
	}
	runner, err := compileStructuredLLMGraph[T](ctx, chatModel, systemPrompt, userTemplate, "analyzer."+string(name))
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s graph: %v", contractx.ErrModelInvoke, name, err)
	}
	return &analyzer[T]{name: name, runner: runner, finalize: finalize}, nil
}

func (a *analyzer[T]) Name() contractx.AgentName {
	return a.name
}

func (a *analyzer[T]) Run(ctx context.Context, text string) (contractx.AgentPayload, error) {
	if err := ctx.Err(); err != nil {
		return contractx.AgentPayload{}, classify(ctx, a.name, err)
	}

	out, err := a.runner.Invoke(ctx, map[string]any{"input": text})
	if err != nil {
		return contractx.AgentPayload{}, classify(ctx, a.name, err)
	}
	if out.ParseErr != nil {
		log.Warn().Str("agent", string(a.name)).Err(out.ParseErr).Msg("agent returned malformed output")
		return contractx.AgentPayload{}, contractx.NewAgentError(a.name, contractx.ErrorKindInvalidResponse, "%v", out.ParseErr)
	}

	payload, err := a.finalize(out.Value)
	if err != nil {
		return contractx.AgentPayload{}, contractx.NewAgentError(a.name, contractx.ErrorKindInvalidResponse, "%v", err)
	}
	return payload, nil
}

// classify maps a failed model call to an agent error kind.
func classify(ctx context.Context, agent contractx.AgentName, err error) *contractx.AgentError {
	var agentErr *contractx.AgentError
	if errors.As(err, &agentErr) {
		return contractx.AsAgentError(agent, err)
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contractx.NewAgentError(agent, contractx.ErrorKindTimeout, "%v", err)
	}
	if status, ok := inferencex.StatusCode(err); ok {
		if status == http.StatusTooManyRequests {
			return contractx.NewAgentError(agent, contractx.ErrorKindRateLimited, "%v", err)
		}
		return contractx.NewAgentError(agent, contractx.ErrorKindUnavailable, "provider status %d: %v", status, err)
	}
	return contractx.NewAgentError(agent, contractx.ErrorKindUnavailable, "%v", err)
}
