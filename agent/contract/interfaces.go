package contract

import "context"

// Agent runs one analysis over normalized text. Errors are *AgentError.
type Agent interface {
	Name() AgentName
	Run(ctx context.Context, text string) (AgentPayload, error)
}

type WebhookDispatcher interface {
	Enqueue(ctx context.Context, result ProcessingResult, target WebhookTarget) error
	Retry(ctx context.Context, requestID string) (DeliveryOutcome, error)
}

// TaskSubmitter schedules work on a bounded worker pool.
type TaskSubmitter interface {
	Submit(ctx context.Context, task func(ctx context.Context)) error
}
