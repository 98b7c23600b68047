package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

// Store is the result persistence contract used by the orchestrator and dispatcher.
// Every write is visible to GetRequest before the call returns.
type Store interface {
	CreateRequest(ctx context.Context, req contractx.ProcessingRequest) error
	AppendAgentResult(ctx context.Context, requestID string, res contractx.AgentResult) error
	UpdateRequestStatus(ctx context.Context, requestID string, update StatusUpdate) error
	AppendDeliveryAttempt(ctx context.Context, requestID string, attempt contractx.WebhookDeliveryAttempt) error
	GetRequest(ctx context.Context, requestID string) (*contractx.RequestRecord, error)
	ListRequests(ctx context.Context, page contractx.Page) (contractx.RequestPage, error)
	Ping(ctx context.Context) error
}

type StatusUpdate struct {
	Status contractx.RequestStatus
	Error  contractx.RequestErrorKind
	At     time.Time
}

func validateNewRequest(req contractx.ProcessingRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("%w: request id is empty", contractx.ErrValidation)
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", contractx.ErrValidation, req.Mode)
	}
	if req.Status == "" {
		return fmt.Errorf("%w: request status is empty", contractx.ErrValidation)
	}
	return nil
}

func checkTransition(requestID string, from, to contractx.RequestStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: request=%s %s -> %s", contractx.ErrInvalidTransition, requestID, from, to)
	}
	return nil
}

func notFound(requestID string) error {
	return fmt.Errorf("%w: %s", contractx.ErrNotFound, requestID)
}

func duplicateResult(requestID string, agent contractx.AgentName) error {
	return fmt.Errorf("%w: request=%s agent=%s", contractx.ErrDuplicateResult, requestID, agent)
}
