package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// DefaultSessionName is the placeholder name of a session that has not been
// named from its first exchange yet.
const DefaultSessionName = "New Chat"

// Role is the author of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role that can be stored.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Session is a named, independently ordered conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one utterance within a session. Messages are immutable once created.
type Message struct {
	ID             int64          `json:"id"`
	SessionID      string         `json:"session_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	TokenCount     *int           `json:"token_count,omitempty"`
	ProcessingTime *time.Duration `json:"processing_time,omitempty"`
}

// MessageEmbedding is the vector of a message, with the session id and content
// copied so retrieval does not need to join against messages.
type MessageEmbedding struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable storage for sessions, messages and message embeddings.
type Store interface {
	// CreateSession creates a session. An empty name yields a default placeholder name.
	CreateSession(ctx context.Context, name string) (*Session, error)
	// GetSession returns the session with the given id or ErrNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]*Session, error)
	// UpdateSessionName renames a session or returns ErrNotFound.
	UpdateSessionName(ctx context.Context, id, name string) error
	// DeleteSession removes a session with all its messages and embeddings,
	// or returns ErrNotFound.
	DeleteSession(ctx context.Context, id string) error
	// EnsureDefaultSession returns the most recently created session,
	// creating one with a placeholder name when none exists.
	EnsureDefaultSession(ctx context.Context) (*Session, error)

	// CreateMessage stores msg, assigning its ID and, when unset, its Timestamp.
	CreateMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the messages of a session in timestamp order,
	// ties broken by insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// CreateEmbedding stores emb, assigning its ID and, when unset, CreatedAt.
	CreateEmbedding(ctx context.Context, emb *MessageEmbedding) error
	// ScanEmbeddings calls fn for every stored embedding whose session is not
	// excludingSessionID. The scan runs as a single read so concurrent
	// writers cannot tear it. Returning an error from fn stops the scan.
	ScanEmbeddings(ctx context.Context, excludingSessionID string, fn func(*MessageEmbedding) error) error

	Close() error
}

// NewSessionName returns the placeholder name used for lazily created sessions.
func NewSessionName(now time.Time) string {
	return DefaultSessionName + " " + now.Format("2006-01-02 15:04")
}

// IsDefaultName reports whether name is still a placeholder name.
func IsDefaultName(name string) bool {
	return name == DefaultSessionName || strings.HasPrefix(name, DefaultSessionName+" ")
}
