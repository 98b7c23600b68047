package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	statex "github.com/tanpawarit/agent-orchestrator/agent/state"
)

// BuildResult writes the terminal status and reads back the stored projection.
func BuildResult(ctx context.Context, in *GraphState, store statex.Store, nowFn func() time.Time) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	ctx = context.WithoutCancel(ctx)

	if err := store.UpdateRequestStatus(ctx, in.Request.ID, statex.StatusUpdate{
		Status: in.Status,
		Error:  in.Error,
		At:     nowFn().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("finish request %s: %w", in.Request.ID, err)
	}

	rec, err := store.GetRequest(ctx, in.Request.ID)
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", in.Request.ID, err)
	}
	in.Request = rec.Request
	in.Result = rec.Result()

	log.Info().
		Str("request_id", in.Request.ID).
		Str("mode", string(in.Request.Mode)).
		Str("status", string(in.Status)).
		Int64("total_execution_ms", in.Result.TotalExecutionMS).
		Dur("elapsed", in.Elapsed).
		Msg("request processed")
	return in, nil
}
