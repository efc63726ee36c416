package domain

import "encoding/json"

// EventType names one kind of event in a chat response stream.
type EventType string

const (
	EventTextDelta              EventType = "text-delta"
	EventToolCallStreamingStart EventType = "tool-call-streaming-start"
	EventToolCallDelta          EventType = "tool-call-delta"
	EventToolCall               EventType = "tool-call"
	EventToolResult             EventType = "tool-result"
	EventStepFinish             EventType = "step-finish"
	EventError                  EventType = "error"
	// EventFinish is terminal: it is always the last event of a stream.
	EventFinish EventType = "finish"
)

// Finish reasons carried by step-finish and finish events.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool-calls"
	FinishError     = "error"
)

// Event is one entry of a chat response stream. Seq increases strictly
// within a stream so consumers can reconstruct arrival order.
type Event struct {
	Seq  int64     `json:"seq"`
	Type EventType `json:"type"`

	// text-delta
	Text string `json:"text,omitempty"`

	// tool-call-streaming-start, tool-call-delta, tool-call, tool-result
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   ToolName       `json:"toolName,omitempty"`
	ArgsDelta  string         `json:"argsTextDelta,omitempty"`
	Args       map[string]any `json:"args,omitempty"`

	// tool-result
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"isError,omitempty"`

	// step-finish, finish
	FinishReason string `json:"finishReason,omitempty"`
	IsContinued  bool   `json:"isContinued,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// IsTerminal reports whether no event may follow e.
func (e Event) IsTerminal() bool {
	return e.Type == EventFinish
}
