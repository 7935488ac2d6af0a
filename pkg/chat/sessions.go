package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/lock"
	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
)

const maxSessionNameRunes = 255

// Sessions manages the lifecycle of sessions outside of chat turns.
type Sessions struct {
	store   store.Store
	indexer retrieval.Indexer
	locker  lock.Locker
	logger  *slog.Logger
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithSessionIndexer drops deleted sessions from an engine's own index.
func WithSessionIndexer(indexer retrieval.Indexer) SessionsOption {
	return func(s *Sessions) {
		s.indexer = indexer
	}
}

// WithSessionLocker makes Delete wait for a running turn of the same
// session. Pass the locker given to the Orchestrator.
func WithSessionLocker(locker lock.Locker) SessionsOption {
	return func(s *Sessions) {
		s.locker = locker
	}
}

func WithSessionLogger(logger *slog.Logger) SessionsOption {
	return func(s *Sessions) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessions creates a Sessions service.
func NewSessions(st store.Store, opts ...SessionsOption) *Sessions {
	s := &Sessions{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create creates a session. An empty name gets a placeholder that is
// replaced after the first exchange.
func (s *Sessions) Create(ctx context.Context, name string) (*store.Session, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxSessionNameRunes {
		return nil, &ValidationError{Reason: "session name is too long"}
	}
	sess, err := s.store.CreateSession(ctx, name)
	if err != nil {
		return nil, &PersistenceError{Op: "create session", Err: err}
	}
	return sess, nil
}

func (s *Sessions) Get(ctx context.Context, id string) (*store.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "get session", Err: err}
	}
	return sess, nil
}

// List returns all sessions, newest first.
func (s *Sessions) List(ctx context.Context) ([]*store.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list sessions", Err: err}
	}
	return sessions, nil
}

func (s *Sessions) Rename(ctx context.Context, id, name string) (*store.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Reason: "session name must not be empty"}
	}
	if utf8.RuneCountInString(name) > maxSessionNameRunes {
		return nil, &ValidationError{Reason: "session name is too long"}
	}
	if err := s.store.UpdateSessionName(ctx, id, name); err != nil {
		return nil, &PersistenceError{Op: "rename session", Err: err}
	}
	return s.Get(ctx, id)
}

// Delete removes a session with its messages and embeddings, then drops it
// from the engine's index. A failed index drop is an error; calling Delete
// again retries it.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "lock session", Err: err}
		}
		defer unlock()
	}

	storeErr := s.store.DeleteSession(ctx, id)
	if storeErr != nil && !errors.Is(storeErr, store.ErrNotFound) {
		return &PersistenceError{Op: "delete session", Err: storeErr}
	}
	if s.indexer != nil {
		if err := s.indexer.DeleteSession(ctx, id); err != nil {
			s.logger.Error("failed to drop session from index", "session_id", id, "error", err)
			return &PersistenceError{Op: "drop session from index", Err: err}
		}
	}
	if storeErr != nil {
		return &PersistenceError{Op: "delete session", Err: storeErr}
	}
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// Messages returns the messages of a session in chronological order.
func (s *Sessions) Messages(ctx context.Context, id string) ([]*store.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "list messages", Err: err}
	}
	return msgs, nil
}
