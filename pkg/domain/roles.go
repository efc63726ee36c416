package domain

// Role defines the sender of a message.
type Role string

const (
	// RoleUser indicates a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool indicates tool results in provider-neutral history. It never
	// appears in a UI conversation.
	RoleTool Role = "tool"
)

// Provider-neutral content types.
const (
	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolCall   = "tool_call"
	ContentTypeToolResult = "tool_result"
)
