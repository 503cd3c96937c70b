package models

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one turn of conversation history sent to the copilot.
// Messages are immutable once created.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
