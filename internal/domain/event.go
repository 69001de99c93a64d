package domain

// RunEventType discriminates the members of the RunEvent union.
type RunEventType string

const (
	RunEventStart     RunEventType = "start"
	RunEventTextDelta RunEventType = "text_delta"
	RunEventToolStart RunEventType = "tool_start"
	RunEventToolEnd   RunEventType = "tool_end"
	RunEventMessage   RunEventType = "message_output"
	RunEventHandoff   RunEventType = "handoff"
	RunEventRaw       RunEventType = "raw"
	RunEventComplete  RunEventType = "complete"
	RunEventError     RunEventType = "error"
)

// RunEvent is a tagged union describing one step of a streamed run.
// Only the fields relevant to Type are populated. FinalOutput is set on
// events that carry the run's final output; the last such event observed
// during a stream is the authoritative run result.
type RunEvent struct {
	Type        RunEventType
	Delta       string  // text_delta
	ToolName    string  // tool_start, tool_end
	ToolOutput  string  // tool_end
	Message     string  // message_output
	NewAgent    string  // handoff
	Err         string  // error
	Raw         any     // raw passthrough payload
	FinalOutput *string // set when the event carries the final output
}
