package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

// Aggregate applies the best-available-answer policy: one success is enough
// to complete the request.
func Aggregate(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Status, in.Error = StatusFor(in.Results)
	return in, nil
}

func StatusFor(results []contractx.AgentResult) (contractx.RequestStatus, contractx.RequestErrorKind) {
	for _, res := range results {
		if res.Succeeded() {
			return contractx.StatusCompleted, ""
		}
	}
	return contractx.StatusFailed, contractx.RequestErrorAllAgentsFailed
}
