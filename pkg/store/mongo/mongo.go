package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/consts"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements store.Store on MongoDB. Message and embedding ids are
// drawn from a counters collection so they stay monotonic like SQL
// auto-increment keys.
type MongoStore struct {
	client     *mongo.Client
	sessions   *mongo.Collection
	messages   *mongo.Collection
	embeddings *mongo.Collection
	counters   *mongo.Collection
}

type SessionDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	CreatedAt time.Time `bson:"created_at"`
}

type MessageDoc struct {
	ID               int64     `bson:"_id"`
	SessionID        string    `bson:"session_id"`
	Role             string    `bson:"role"`
	Content          string    `bson:"content"`
	Timestamp        time.Time `bson:"timestamp"`
	TokenCount       *int      `bson:"token_count,omitempty"`
	ProcessingTimeMs *int64    `bson:"processing_time_ms,omitempty"`
}

type EmbeddingDoc struct {
	ID        int64     `bson:"_id"`
	MessageID int64     `bson:"message_id"`
	SessionID string    `bson:"session_id"`
	Content   string    `bson:"content"`
	Role      string    `bson:"role"`
	Embedding []float32 `bson:"embedding"`
	CreatedAt time.Time `bson:"created_at"`
}

// New creates a new MongoStore and ensures its indexes exist.
func New(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	db := client.Database(dbName)
	m := &MongoStore{
		client:     client,
		sessions:   db.Collection(consts.TableNameSessions),
		messages:   db.Collection(consts.TableNameMessages),
		embeddings: db.Collection(consts.TableNameEmbeddings),
		counters:   db.Collection(consts.TableNameCounters),
	}

	if _, err := m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: consts.ColSessionID, Value: 1}, {Key: consts.ColTimestamp, Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create message index: %w", err)
	}
	if _, err := m.embeddings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: consts.ColSessionID, Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create embedding index: %w", err)
	}
	return m, nil
}

func (m *MongoStore) nextID(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return doc.Seq, nil
}

// requireSession fails with store.ErrNotFound unless the session exists.
func (m *MongoStore) requireSession(ctx context.Context, id string) error {
	n, err := m.sessions.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (m *MongoStore) CreateSession(ctx context.Context, name string) (*store.Session, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if name == "" {
		name = store.NewSessionName(now)
	}
	doc := SessionDoc{ID: uuid.NewString(), Name: name, CreatedAt: now}
	if _, err := m.sessions.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return toSession(doc), nil
}

func (m *MongoStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var doc SessionDoc
	err := m.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toSession(doc), nil
}

func (m *MongoStore) ListSessions(ctx context.Context) ([]*store.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: consts.ColCreatedAt, Value: -1}})
	cursor, err := m.sessions.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*store.Session
	for cursor.Next(ctx) {
		var doc SessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		sessions = append(sessions, toSession(doc))
	}
	return sessions, cursor.Err()
}

func (m *MongoStore) UpdateSessionName(ctx context.Context, id, name string) error {
	res, err := m.sessions.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{consts.ColName: name}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// DeleteSession removes the session document first so a concurrent reader
// never sees a session whose messages are already gone.
func (m *MongoStore) DeleteSession(ctx context.Context, id string) error {
	res, err := m.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}

	filter := bson.M{consts.ColSessionID: id}
	if _, err := m.embeddings.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if _, err := m.messages.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (m *MongoStore) EnsureDefaultSession(ctx context.Context) (*store.Session, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: consts.ColCreatedAt, Value: -1}})
	var doc SessionDoc
	err := m.sessions.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == nil {
		return toSession(doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	return m.CreateSession(ctx, "")
}

func (m *MongoStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if err := m.requireSession(ctx, msg.SessionID); err != nil {
		return err
	}
	id, err := m.nextID(ctx, consts.TableNameMessages)
	if err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	// BSON dates carry millisecond precision.
	msg.Timestamp = msg.Timestamp.Truncate(time.Millisecond)

	doc := MessageDoc{
		ID:         id,
		SessionID:  msg.SessionID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
		TokenCount: msg.TokenCount,
	}
	if msg.ProcessingTime != nil {
		ms := msg.ProcessingTime.Milliseconds()
		doc.ProcessingTimeMs = &ms
	}
	if _, err := m.messages.InsertOne(ctx, doc); err != nil {
		return err
	}
	msg.ID = id
	return nil
}

func (m *MongoStore) ListMessages(ctx context.Context, sessionID string) ([]*store.Message, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: consts.ColTimestamp, Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := m.messages.Find(ctx, bson.M{consts.ColSessionID: sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*store.Message
	for cursor.Next(ctx) {
		var doc MessageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		msg := &store.Message{
			ID:         doc.ID,
			SessionID:  doc.SessionID,
			Role:       store.Role(doc.Role),
			Content:    doc.Content,
			Timestamp:  doc.Timestamp.UTC(),
			TokenCount: doc.TokenCount,
		}
		if doc.ProcessingTimeMs != nil {
			d := time.Duration(*doc.ProcessingTimeMs) * time.Millisecond
			msg.ProcessingTime = &d
		}
		messages = append(messages, msg)
	}
	return messages, cursor.Err()
}

func (m *MongoStore) CreateEmbedding(ctx context.Context, emb *store.MessageEmbedding) error {
	if err := m.requireSession(ctx, emb.SessionID); err != nil {
		return err
	}
	id, err := m.nextID(ctx, consts.TableNameEmbeddings)
	if err != nil {
		return err
	}
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now().UTC()
	}
	emb.CreatedAt = emb.CreatedAt.Truncate(time.Millisecond)

	doc := EmbeddingDoc{
		ID:        id,
		MessageID: emb.MessageID,
		SessionID: emb.SessionID,
		Content:   emb.Content,
		Role:      string(emb.Role),
		Embedding: emb.Embedding,
		CreatedAt: emb.CreatedAt,
	}
	if _, err := m.embeddings.InsertOne(ctx, doc); err != nil {
		return err
	}
	emb.ID = id
	return nil
}

func (m *MongoStore) ScanEmbeddings(ctx context.Context, excludingSessionID string, fn func(*store.MessageEmbedding) error) error {
	cursor, err := m.embeddings.Find(ctx, bson.M{consts.ColSessionID: bson.M{"$ne": excludingSessionID}})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc EmbeddingDoc
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if err := fn(&store.MessageEmbedding{
			ID:        doc.ID,
			MessageID: doc.MessageID,
			SessionID: doc.SessionID,
			Content:   doc.Content,
			Role:      store.Role(doc.Role),
			Embedding: doc.Embedding,
			CreatedAt: doc.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}

func toSession(doc SessionDoc) *store.Session {
	return &store.Session{ID: doc.ID, Name: doc.Name, CreatedAt: doc.CreatedAt.UTC()}
}
