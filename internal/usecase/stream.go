package usecase

import (
	"context"
	"fmt"

	"conductor/internal/domain"
)

// StreamOrchestrator runs an orchestrator in composite mode and streams run
// events as they happen. The returned channel is closed after the complete
// or error event. A cancelled ctx stops the run; events produced after
// cancellation are dropped rather than blocking.
func (e *Engine) StreamOrchestrator(ctx context.Context, orchestratorID, input string, values map[string]any, saveHistory bool) (<-chan domain.RunEvent, error) {
	orch, err := e.store.GetOrchestrator(ctx, orchestratorID)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.RunEvent, 16)
	emit := func(ev domain.RunEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)

		exec := e.newExecutor()
		defer exec.Close()

		emit(domain.RunEvent{Type: domain.RunEventStart})

		acc := &runAccumulator{}
		coordinator := e.buildCoordinator(ctx, orch, values, exec, acc, emit)

		res, runErr := exec.RunAgentStream(ctx, coordinator, input, emit)

		response := ""
		if runErr != nil {
			response = fmt.Sprintf("Error executing orchestrator %s: %v", orch.Name, runErr)
		} else {
			response = res.Response
		}

		// Persist before the final event so a client that acts on it can
		// immediately read the recorded exchange. Failed runs are recorded
		// too, with the error text as the response.
		if saveHistory {
			if err := e.history.Append(ctx, orch.ID, input, response, values); err != nil {
				e.logger.Error("failed to record conversation history",
					"orchestrator_id", orch.ID, "error", err)
			}
		}

		if runErr != nil {
			e.logger.Error("streaming run failed",
				"orchestrator_id", orch.ID, "error", runErr)
			emit(domain.RunEvent{Type: domain.RunEventError, Err: response})
			return
		}

		emit(domain.RunEvent{
			Type:        domain.RunEventComplete,
			FinalOutput: &res.Response,
		})
	}()

	return events, nil
}
