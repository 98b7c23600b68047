package orchestratornode

import (
	"context"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

type GraphInput struct {
	Request contractx.ProcessingRequest
}

type GraphOutput struct {
	Result contractx.ProcessingResult
}

type GraphState struct {
	Request   contractx.ProcessingRequest
	StartedAt time.Time

	// Results holds one entry per configured agent, in AgentOrder.
	Results []contractx.AgentResult
	Elapsed time.Duration

	Status contractx.RequestStatus
	Error  contractx.RequestErrorKind

	Result contractx.ProcessingResult
}

type callerCtxKey struct{}

// Detach returns a context that ignores ctx's cancellation but remembers ctx,
// so the graph always runs to the end while agent calls stay bound by ctx.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), callerCtxKey{}, ctx)
}

func callerContext(ctx context.Context) context.Context {
	if c, ok := ctx.Value(callerCtxKey{}).(context.Context); ok {
		return c
	}
	return ctx
}
