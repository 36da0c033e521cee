package chat

import "time"

// Role identifies the author of a conversation message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a provider-emitted instruction to invoke a registered
// function. Arguments is the raw JSON string exactly as the provider
// sent it; it is parsed only at dispatch time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry in the conversation history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// NewToolMessage builds a tool-result message linked to its originating call.
func NewToolMessage(callID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: callID,
		Timestamp:  time.Now(),
	}
}

// IsSystem reports whether the message carries the system role.
func (m Message) IsSystem() bool { return m.Role == RoleSystem }

// HasToolCalls reports whether the assistant requested tool execution.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
