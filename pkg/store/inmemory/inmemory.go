package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/google/uuid"
)

// InMemory implements store.Store using maps guarded by a single lock.
type InMemory struct {
	mu         sync.RWMutex
	sessions   map[string]*store.Session
	messages   map[string][]*store.Message
	embeddings map[string][]*store.MessageEmbedding
	nextMsgID  int64
	nextEmbID  int64
}

// New creates a new InMemory store.
func New() *InMemory {
	return &InMemory{
		sessions:   make(map[string]*store.Session),
		messages:   make(map[string][]*store.Message),
		embeddings: make(map[string][]*store.MessageEmbedding),
	}
}

func (m *InMemory) CreateSession(ctx context.Context, name string) (*store.Session, error) {
	now := time.Now().UTC()
	if name == "" {
		name = store.NewSessionName(now)
	}
	s := &store.Session{ID: uuid.NewString(), Name: name, CreatedAt: now}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s

	cp := *s
	return &cp, nil
}

func (m *InMemory) GetSession(ctx context.Context, id string) (*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *InMemory) ListSessions(ctx context.Context) ([]*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*store.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *InMemory) UpdateSessionName(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	s.Name = name
	return nil
}

func (m *InMemory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	delete(m.embeddings, id)
	return nil
}

func (m *InMemory) EnsureDefaultSession(ctx context.Context) (*store.Session, error) {
	sessions, err := m.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		return sessions[0], nil
	}
	return m.CreateSession(ctx, "")
}

func (m *InMemory) CreateMessage(ctx context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", msg.SessionID, store.ErrNotFound)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	m.nextMsgID++
	msg.ID = m.nextMsgID

	cp := *msg
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &cp)
	return nil
}

func (m *InMemory) ListMessages(ctx context.Context, sessionID string) ([]*store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	result := make([]*store.Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		result[i] = &cp
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *InMemory) CreateEmbedding(ctx context.Context, emb *store.MessageEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[emb.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", emb.SessionID, store.ErrNotFound)
	}
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now().UTC()
	}
	m.nextEmbID++
	emb.ID = m.nextEmbID

	cp := *emb
	cp.Embedding = append([]float32(nil), emb.Embedding...)
	m.embeddings[emb.SessionID] = append(m.embeddings[emb.SessionID], &cp)
	return nil
}

// ScanEmbeddings holds the read lock for the whole scan, so it never observes
// a half-deleted session.
func (m *InMemory) ScanEmbeddings(ctx context.Context, excludingSessionID string, fn func(*store.MessageEmbedding) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sessionID, embs := range m.embeddings {
		if sessionID == excludingSessionID {
			continue
		}
		for _, e := range embs {
			if err := ctx.Err(); err != nil {
				return err
			}
			cp := *e
			if err := fn(&cp); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *InMemory) Close() error {
	return nil
}
