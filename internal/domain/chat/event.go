package chat

import "time"

// EventType identifies a chat engine event delivered to the front-end.
type EventType string

const (
	// EventChunk carries an incremental piece of assistant text.
	EventChunk EventType = "chunk"
	// EventToolCall announces a tool invocation about to be dispatched.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries the outcome of a dispatched tool call.
	EventToolResult EventType = "tool_result"
	// EventDone signals the end of a send cycle.
	EventDone EventType = "done"
	// EventError carries a terminal error for the send cycle.
	EventError EventType = "error"
)

// Event is emitted by the engine while a send is in flight. Chunks arrive
// in wire order; tool events follow the provider's declared index order.
type Event struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Output   string
	Success  bool
	Duration time.Duration
	Err      error
}
