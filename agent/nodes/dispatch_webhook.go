package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

// DispatchWebhook hands the result to the dispatcher without waiting for delivery.
// A failed hand-off is logged; it never changes the request outcome.
func DispatchWebhook(ctx context.Context, in *GraphState, dispatcher contractx.WebhookDispatcher) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	target := in.Request.Webhook
	if dispatcher != nil && target != nil && strings.TrimSpace(target.URL) != "" {
		if err := dispatcher.Enqueue(context.WithoutCancel(ctx), in.Result, *target); err != nil {
			log.Error().Err(err).Str("request_id", in.Request.ID).Msg("webhook enqueue failed")
		}
	}
	return GraphOutput{Result: in.Result}, nil
}
