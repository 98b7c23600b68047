package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	req := in.Request
	if strings.TrimSpace(req.ID) == "" {
		return nil, fmt.Errorf("%w: request id is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, contractx.InvalidInput("text is empty")
	}
	if !req.Mode.Valid() {
		return nil, contractx.InvalidInput("unknown mode %q", req.Mode)
	}

	return &GraphState{
		Request:   req,
		StartedAt: nowFn().UTC(),
	}, nil
}
