package neo4j

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/consts"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore implements store.Store as a graph:
// (Session)-[:HAS_MESSAGE]->(Message)-[:HAS_EMBEDDING]->(MessageEmbedding).
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	dbName string
}

// New creates a new Neo4jStore.
func New(uri, username, password, dbName string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, err
	}

	return &Neo4jStore{
		driver: driver,
		dbName: dbName,
	}, nil
}

func (m *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
}

func nextID(ctx context.Context, tx neo4j.ManagedTransaction, name string) (int64, error) {
	query := fmt.Sprintf(`
	MERGE (c:%s {name: $name})
	ON CREATE SET c.seq = 0
	SET c.seq = c.seq + 1
	RETURN c.seq AS seq
	`, consts.LabelCounter)
	res, err := tx.Run(ctx, query, map[string]any{"name": name})
	if err != nil {
		return 0, err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	seq, _ := record.Get("seq")
	return seq.(int64), nil
}

func (m *Neo4jStore) CreateSession(ctx context.Context, name string) (*store.Session, error) {
	now := time.Now().UTC()
	if name == "" {
		name = store.NewSessionName(now)
	}
	sess := &store.Session{ID: uuid.NewString(), Name: name, CreatedAt: now}

	session := m.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`CREATE (:%s {%s: $id, %s: $name, %s: $createdAt})`,
			consts.LabelSession, consts.ColID, consts.ColName, consts.ColCreatedAt)
		_, err := tx.Run(ctx, query, map[string]any{"id": sess.ID, "name": sess.Name, "createdAt": sess.CreatedAt})
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *Neo4jStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sessions, err := m.querySessions(ctx, fmt.Sprintf(`
	MATCH (s:%s {%s: $id})
	RETURN s.%s AS id, s.%s AS name, s.%s AS createdAt
	`, consts.LabelSession, consts.ColID, consts.ColID, consts.ColName, consts.ColCreatedAt),
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return sessions[0], nil
}

func (m *Neo4jStore) ListSessions(ctx context.Context) ([]*store.Session, error) {
	return m.querySessions(ctx, fmt.Sprintf(`
	MATCH (s:%s)
	RETURN s.%s AS id, s.%s AS name, s.%s AS createdAt
	ORDER BY s.%s DESC
	`, consts.LabelSession, consts.ColID, consts.ColName, consts.ColCreatedAt, consts.ColCreatedAt), nil)
}

func (m *Neo4jStore) querySessions(ctx context.Context, query string, params map[string]any) ([]*store.Session, error) {
	session := m.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var sessions []*store.Session
		for res.Next(ctx) {
			record := res.Record()
			id, _ := record.Get("id")
			name, _ := record.Get("name")
			createdAt, _ := record.Get("createdAt")
			sessions = append(sessions, &store.Session{
				ID:        id.(string),
				Name:      name.(string),
				CreatedAt: createdAt.(time.Time).UTC(),
			})
		}
		return sessions, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*store.Session), nil
}

func (m *Neo4jStore) UpdateSessionName(ctx context.Context, id, name string) error {
	session := m.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MATCH (s:%s {%s: $id})
		SET s.%s = $name
		RETURN count(s) AS n
		`, consts.LabelSession, consts.ColID, consts.ColName)
		res, err := tx.Run(ctx, query, map[string]any{"id": id, "name": name})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		return n.(int64), nil
	})
	if err != nil {
		return err
	}
	if result.(int64) == 0 {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (m *Neo4jStore) DeleteSession(ctx context.Context, id string) error {
	session := m.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`MATCH (s:%s {%s: $id}) RETURN s.%s AS id`,
			consts.LabelSession, consts.ColID, consts.ColID), map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
		}

		params := map[string]any{"id": id}
		for _, label := range []string{consts.LabelEmbedding, consts.LabelMessage} {
			query := fmt.Sprintf(`MATCH (n:%s {%s: $id}) DETACH DELETE n`, label, consts.ColSessionID)
			if _, err := tx.Run(ctx, query, params); err != nil {
				return nil, err
			}
		}
		query := fmt.Sprintf(`MATCH (s:%s {%s: $id}) DETACH DELETE s`, consts.LabelSession, consts.ColID)
		_, err = tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

func (m *Neo4jStore) EnsureDefaultSession(ctx context.Context) (*store.Session, error) {
	sessions, err := m.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		return sessions[0], nil
	}
	return m.CreateSession(ctx, "")
}

func (m *Neo4jStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	params := map[string]any{
		"sessionID": msg.SessionID,
		"role":      string(msg.Role),
		"content":   msg.Content,
		"timestamp": msg.Timestamp,
		"tokens":    nil,
		"elapsed":   nil,
	}
	if msg.TokenCount != nil {
		params["tokens"] = int64(*msg.TokenCount)
	}
	if msg.ProcessingTime != nil {
		params["elapsed"] = msg.ProcessingTime.Milliseconds()
	}

	session := m.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		id, err := nextID(ctx, tx, consts.TableNameMessages)
		if err != nil {
			return nil, err
		}
		params["id"] = id

		query := fmt.Sprintf(`
		MATCH (s:%s {%s: $sessionID})
		CREATE (m:%s {
			%s: $id,
			%s: $sessionID,
			%s: $role,
			%s: $content,
			%s: $timestamp,
			%s: $tokens,
			%s: $elapsed
		})
		CREATE (s)-[:%s]->(m)
		RETURN m.%s AS id
		`, consts.LabelSession, consts.ColID, consts.LabelMessage,
			consts.ColID, consts.ColSessionID, consts.ColRole, consts.ColContent,
			consts.ColTimestamp, consts.ColTokenCount, consts.ColProcessingTime,
			consts.RelHasMessage, consts.ColID)
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, fmt.Errorf("session %s: %w", msg.SessionID, store.ErrNotFound)
		}
		return id, nil
	})
	if err != nil {
		return err
	}
	msg.ID = result.(int64)
	return nil
}

func (m *Neo4jStore) ListMessages(ctx context.Context, sessionID string) ([]*store.Message, error) {
	session := m.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MATCH (s:%s {%s: $sessionID})-[:%s]->(m:%s)
		RETURN m.%s AS id, m.%s AS role, m.%s AS content, m.%s AS timestamp,
			m.%s AS tokens, m.%s AS elapsed
		ORDER BY m.%s ASC, m.%s ASC
		`, consts.LabelSession, consts.ColID, consts.RelHasMessage, consts.LabelMessage,
			consts.ColID, consts.ColRole, consts.ColContent, consts.ColTimestamp,
			consts.ColTokenCount, consts.ColProcessingTime,
			consts.ColTimestamp, consts.ColID)

		res, err := tx.Run(ctx, query, map[string]any{"sessionID": sessionID})
		if err != nil {
			return nil, err
		}

		var messages []*store.Message
		for res.Next(ctx) {
			record := res.Record()
			id, _ := record.Get("id")
			role, _ := record.Get("role")
			content, _ := record.Get("content")
			ts, _ := record.Get("timestamp")
			tokens, _ := record.Get("tokens")
			elapsed, _ := record.Get("elapsed")

			msg := &store.Message{
				ID:        id.(int64),
				SessionID: sessionID,
				Role:      store.Role(role.(string)),
				Content:   content.(string),
				Timestamp: ts.(time.Time).UTC(),
			}
			if n, ok := tokens.(int64); ok {
				tc := int(n)
				msg.TokenCount = &tc
			}
			if ms, ok := elapsed.(int64); ok {
				d := time.Duration(ms) * time.Millisecond
				msg.ProcessingTime = &d
			}
			messages = append(messages, msg)
		}
		return messages, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*store.Message), nil
}

func (m *Neo4jStore) CreateEmbedding(ctx context.Context, emb *store.MessageEmbedding) error {
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now().UTC()
	}
	vec := make([]float64, len(emb.Embedding))
	for i, f := range emb.Embedding {
		vec[i] = float64(f)
	}
	params := map[string]any{
		"messageID": emb.MessageID,
		"sessionID": emb.SessionID,
		"content":   emb.Content,
		"role":      string(emb.Role),
		"embedding": vec,
		"createdAt": emb.CreatedAt,
	}

	session := m.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		id, err := nextID(ctx, tx, consts.TableNameEmbeddings)
		if err != nil {
			return nil, err
		}
		params["id"] = id

		query := fmt.Sprintf(`
		MATCH (:%s {%s: $sessionID})-[:%s]->(m:%s {%s: $messageID})
		CREATE (e:%s {
			%s: $id,
			%s: $messageID,
			%s: $sessionID,
			%s: $content,
			%s: $role,
			%s: $embedding,
			%s: $createdAt
		})
		CREATE (m)-[:%s]->(e)
		RETURN e.%s AS id
		`, consts.LabelSession, consts.ColID, consts.RelHasMessage, consts.LabelMessage, consts.ColID, consts.LabelEmbedding,
			consts.ColID, consts.ColMessageID, consts.ColSessionID, consts.ColContent,
			consts.ColRole, consts.ColEmbedding, consts.ColCreatedAt,
			consts.RelHasEmbedding, consts.ColID)
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, fmt.Errorf("message %d in session %s: %w", emb.MessageID, emb.SessionID, store.ErrNotFound)
		}
		return id, nil
	})
	if err != nil {
		return err
	}
	emb.ID = result.(int64)
	return nil
}

func (m *Neo4jStore) ScanEmbeddings(ctx context.Context, excludingSessionID string, fn func(*store.MessageEmbedding) error) error {
	session := m.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MATCH (e:%s)
		WHERE e.%s <> $exclude
		RETURN e.%s AS id, e.%s AS messageID, e.%s AS sessionID, e.%s AS content,
			e.%s AS role, e.%s AS embedding, e.%s AS createdAt
		`, consts.LabelEmbedding, consts.ColSessionID,
			consts.ColID, consts.ColMessageID, consts.ColSessionID, consts.ColContent,
			consts.ColRole, consts.ColEmbedding, consts.ColCreatedAt)

		res, err := tx.Run(ctx, query, map[string]any{"exclude": excludingSessionID})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			emb, err := toEmbedding(res.Record())
			if err != nil {
				return nil, err
			}
			if err := fn(emb); err != nil {
				return nil, errScanStopped{err}
			}
		}
		return nil, res.Err()
	})

	var stopped errScanStopped
	if errors.As(err, &stopped) {
		return stopped.err
	}
	return err
}

// errScanStopped marks a callback error so it is returned to the caller
// instead of being retried as a transaction failure.
type errScanStopped struct{ err error }

func (e errScanStopped) Error() string { return e.err.Error() }

func toEmbedding(record *neo4j.Record) (*store.MessageEmbedding, error) {
	id, _ := record.Get("id")
	messageID, _ := record.Get("messageID")
	sessionID, _ := record.Get("sessionID")
	content, _ := record.Get("content")
	role, _ := record.Get("role")
	raw, _ := record.Get("embedding")
	createdAt, _ := record.Get("createdAt")

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("embedding %v has no vector", id)
	}
	vec := make([]float32, len(list))
	for i, v := range list {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("embedding %v has a non-float component", id)
		}
		vec[i] = float32(f)
	}

	return &store.MessageEmbedding{
		ID:        id.(int64),
		MessageID: messageID.(int64),
		SessionID: sessionID.(string),
		Content:   content.(string),
		Role:      store.Role(role.(string)),
		Embedding: vec,
		CreatedAt: createdAt.(time.Time).UTC(),
	}, nil
}

func (m *Neo4jStore) Close() error {
	return m.driver.Close(context.Background())
}
