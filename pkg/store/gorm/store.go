package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/consts"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements store.Store using GORM.
type Store struct {
	db *gorm.DB
}

// SessionModel represents the database schema for a session.
type SessionModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"size:255;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName overrides the table name.
func (SessionModel) TableName() string {
	return consts.TableNameSessions
}

// MessageModel represents the database schema for a message.
// The auto-increment ID doubles as the insertion order.
type MessageModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	SessionID        string    `gorm:"size:36;not null;index:idx_session_timestamp,priority:1"`
	Role             string    `gorm:"size:16;not null"`
	Content          string    `gorm:"type:text;not null"`
	Timestamp        time.Time `gorm:"not null;index:idx_session_timestamp,priority:2"`
	TokenCount       *int
	ProcessingTimeMs *int64
}

// TableName overrides the table name.
func (MessageModel) TableName() string {
	return consts.TableNameMessages
}

// EmbeddingModel represents the database schema for a message embedding.
type EmbeddingModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	MessageID int64     `gorm:"not null;uniqueIndex"`
	SessionID string    `gorm:"size:36;not null;index:idx_embedding_session_role,priority:1"`
	Content   string    `gorm:"type:text;not null"`
	Role      string    `gorm:"size:16;not null;index:idx_embedding_session_role,priority:2"`
	Embedding []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName overrides the table name.
func (EmbeddingModel) TableName() string {
	return consts.TableNameEmbeddings
}

// New creates a new Store and migrates its schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SessionModel{}, &MessageModel{}, &EmbeddingModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Open connects through dialector and migrates the schema. Only errors are
// logged by gorm; slow queries are the caller's concern.
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Error)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialector.Name(), err)
	}
	return New(db)
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) CreateSession(ctx context.Context, name string) (*store.Session, error) {
	now := time.Now().UTC()
	if name == "" {
		name = store.NewSessionName(now)
	}
	model := SessionModel{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return toSession(model), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toSession(model), nil
}

func (s *Store) ListSessions(ctx context.Context) ([]*store.Session, error) {
	var models []SessionModel
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	sessions := make([]*store.Session, len(models))
	for i, m := range models {
		sessions[i] = toSession(m)
	}
	return sessions, nil
}

func (s *Store) UpdateSessionName(ctx context.Context, id, name string) error {
	res := s.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero affected rows when the value is unchanged.
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSession removes the session and cascades to its messages and
// embeddings inside one transaction, so it does not depend on the dialect
// enforcing foreign keys.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&EmbeddingModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&SessionModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) EnsureDefaultSession(ctx context.Context) (*store.Session, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).Order("created_at desc").Take(&model).Error
	if err == nil {
		return toSession(model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.CreateSession(ctx, "")
}

func (s *Store) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	model := MessageModel{
		SessionID:  msg.SessionID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
		TokenCount: msg.TokenCount,
	}
	if msg.ProcessingTime != nil {
		ms := msg.ProcessingTime.Milliseconds()
		model.ProcessingTimeMs = &ms
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireSession(tx, msg.SessionID); err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return err
	}
	msg.ID = model.ID
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*store.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: consts.ColTimestamp}}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: consts.ColID}}).
		Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]*store.Message, len(models))
	for i, m := range models {
		msg := &store.Message{
			ID:         m.ID,
			SessionID:  m.SessionID,
			Role:       store.Role(m.Role),
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			TokenCount: m.TokenCount,
		}
		if m.ProcessingTimeMs != nil {
			d := time.Duration(*m.ProcessingTimeMs) * time.Millisecond
			msg.ProcessingTime = &d
		}
		messages[i] = msg
	}
	return messages, nil
}

func (s *Store) CreateEmbedding(ctx context.Context, emb *store.MessageEmbedding) error {
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now().UTC()
	}
	model := EmbeddingModel{
		MessageID: emb.MessageID,
		SessionID: emb.SessionID,
		Content:   emb.Content,
		Role:      string(emb.Role),
		Embedding: EncodeVector(emb.Embedding),
		CreatedAt: emb.CreatedAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireSession(tx, emb.SessionID); err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return err
	}
	emb.ID = model.ID
	return nil
}

func (s *Store) ScanEmbeddings(ctx context.Context, excludingSessionID string, fn func(*store.MessageEmbedding) error) error {
	rows, err := s.db.WithContext(ctx).
		Model(&EmbeddingModel{}).
		Where("session_id <> ?", excludingSessionID).
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var m EmbeddingModel
		if err := s.db.ScanRows(rows, &m); err != nil {
			return err
		}
		vec, err := DecodeVector(m.Embedding)
		if err != nil {
			return fmt.Errorf("failed to decode embedding %d: %w", m.ID, err)
		}
		if err := fn(&store.MessageEmbedding{
			ID:        m.ID,
			MessageID: m.MessageID,
			SessionID: m.SessionID,
			Content:   m.Content,
			Role:      store.Role(m.Role),
			Embedding: vec,
			CreatedAt: m.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// requireSession fails with store.ErrNotFound unless the session exists.
// The schema carries no foreign keys, so writes check it themselves.
func requireSession(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&SessionModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func toSession(m SessionModel) *store.Session {
	return &store.Session{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}
