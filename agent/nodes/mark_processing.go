package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	statex "github.com/tanpawarit/agent-orchestrator/agent/state"
)

// MarkProcessing stores the request when it is new and moves it to processing.
func MarkProcessing(ctx context.Context, in *GraphState, store statex.Store, nowFn func() time.Time) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	ctx = context.WithoutCancel(ctx)

	if _, err := store.GetRequest(ctx, in.Request.ID); err != nil {
		if !errors.Is(err, contractx.ErrNotFound) {
			return nil, fmt.Errorf("load request %s: %w", in.Request.ID, err)
		}
		req := in.Request
		req.Status = contractx.StatusPending
		if req.CreatedAt.IsZero() {
			req.CreatedAt = in.StartedAt
		}
		req.UpdatedAt = req.CreatedAt
		if err := store.CreateRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("create request %s: %w", req.ID, err)
		}
		in.Request = req
	}

	if err := store.UpdateRequestStatus(ctx, in.Request.ID, statex.StatusUpdate{
		Status: contractx.StatusProcessing,
		At:     nowFn().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("mark request %s processing: %w", in.Request.ID, err)
	}
	in.Request.Status = contractx.StatusProcessing
	return in, nil
}
