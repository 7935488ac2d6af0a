package llm

import "context"

// Role represents the role of the message sender (system, user, assistant).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message sent to or received from the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider defines the interface for a chat completion provider.
type Provider interface {
	// Chat sends the assembled prompt to the model and returns the reply.
	// Failures should be reported as *CompletionError so callers can tell
	// rate limits from bad credentials.
	Chat(ctx context.Context, messages []Message) (*Message, error)
}
