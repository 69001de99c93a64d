package usecase

import (
	"encoding/json"
	"fmt"

	"conductor/internal/domain"
)

// SerializeEvent converts a run event into the wire map sent to streaming
// clients. It never fails: unknown event types serialize with their type
// string only, and raw payloads that cannot be marshalled degrade to their
// string rendering.
func SerializeEvent(ev domain.RunEvent) map[string]any {
	switch ev.Type {
	case domain.RunEventStart:
		return map[string]any{"type": "start"}
	case domain.RunEventTextDelta:
		return map[string]any{
			"type": "text_delta",
			"data": map[string]any{"delta": ev.Delta},
		}
	case domain.RunEventToolStart:
		return map[string]any{"type": "tool_start", "tool": ev.ToolName}
	case domain.RunEventToolEnd:
		return map[string]any{
			"type":   "tool_end",
			"tool":   ev.ToolName,
			"output": ev.ToolOutput,
		}
	case domain.RunEventMessage:
		return map[string]any{"type": "message_output", "message": ev.Message}
	case domain.RunEventHandoff:
		return map[string]any{"type": "handoff", "new_agent": ev.NewAgent}
	case domain.RunEventComplete:
		out := ""
		if ev.FinalOutput != nil {
			out = *ev.FinalOutput
		}
		return map[string]any{"type": "complete", "final_output": out}
	case domain.RunEventError:
		return map[string]any{"type": "error", "message": ev.Err}
	case domain.RunEventRaw:
		return map[string]any{"type": "raw", "data": jsonSafe(ev.Raw)}
	default:
		return map[string]any{"type": string(ev.Type)}
	}
}

// jsonSafe returns v if it marshals cleanly, otherwise its fmt rendering.
// Streaming must survive any payload a provider hands back.
func jsonSafe(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}
