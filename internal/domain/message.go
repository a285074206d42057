// Package domain contains core domain types for the hostpilot agent.
package domain

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a dialogue history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
