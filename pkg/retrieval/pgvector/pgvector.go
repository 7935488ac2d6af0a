package pgvector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine implements retrieval.Engine and retrieval.Indexer on Postgres with
// the pgvector extension, ordering by cosine distance (<=>).
type Engine struct {
	db    *gorm.DB
	owned bool
}

// VectorModel is one indexed message embedding.
type VectorModel struct {
	MessageID int64           `gorm:"primaryKey;autoIncrement:false"`
	SessionID string          `gorm:"size:36;not null;index"`
	Role      string          `gorm:"size:16;not null"`
	Content   string          `gorm:"type:text;not null"`
	Embedding pgvector.Vector `gorm:"type:vector;not null"`
	CreatedAt time.Time       `gorm:"not null"`
}

// TableName overrides the table name.
func (VectorModel) TableName() string {
	return "message_vectors"
}

// New connects to dsn and prepares the vector table.
func New(dsn string) (*Engine, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	e, err := NewWithDB(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	e.owned = true
	return e, nil
}

// Close closes the connection pool if New opened it. A pool passed to
// NewWithDB is left to its owner.
func (e *Engine) Close() error {
	if !e.owned {
		return nil
	}
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewWithDB prepares the vector table on an existing connection, which may be
// the one backing the message store.
func NewWithDB(db *gorm.DB) (*Engine, error) {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&VectorModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Index(ctx context.Context, emb *store.MessageEmbedding) error {
	model := VectorModel{
		MessageID: emb.MessageID,
		SessionID: emb.SessionID,
		Role:      string(emb.Role),
		Content:   emb.Content,
		Embedding: pgvector.NewVector(emb.Embedding),
		CreatedAt: emb.CreatedAt,
	}
	return e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "role", "content", "embedding", "created_at"}),
	}).Create(&model).Error
}

func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&VectorModel{}).Error
}

type row struct {
	MessageID int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
	Score     float64
}

func (e *Engine) Search(ctx context.Context, query []float32, excludingSessionID string, topK int) ([]retrieval.Hit, error) {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	// Cosine distance is undefined for a zero vector.
	if retrieval.IsZero(query) {
		return []retrieval.Hit{}, nil
	}

	vec := pgvector.NewVector(query)
	var rows []row
	err := e.db.WithContext(ctx).
		Model(&VectorModel{}).
		Select("message_id, session_id, role, content, created_at, 1 - (embedding <=> ?) AS score", vec).
		Where("session_id <> ?", excludingSessionID).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vec}}).
		Order("created_at DESC").
		Order("message_id DESC").
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	hits := make([]retrieval.Hit, 0, len(rows))
	for _, r := range rows {
		score := r.Score
		if math.IsNaN(score) {
			score = 0
		}
		hits = append(hits, retrieval.Hit{
			MessageID: r.MessageID,
			SessionID: r.SessionID,
			Role:      store.Role(r.Role),
			Content:   r.Content,
			Score:     score,
			CreatedAt: r.CreatedAt,
		})
	}
	return retrieval.Rank(hits, topK), nil
}
