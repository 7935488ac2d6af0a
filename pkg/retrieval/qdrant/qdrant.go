package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/qdrant/go-client/qdrant"
)

const (
	fieldSessionID = "session_id"
	fieldMessageID = "message_id"
	fieldRole      = "role"
	fieldContent   = "content"
	fieldCreatedAt = "created_at"
)

// Engine implements retrieval.Engine and retrieval.Indexer on a Qdrant
// collection using cosine distance. Points are keyed by message id.
type Engine struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
}

// Config holds the connection settings.
type Config struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
	VectorSize     uint64
}

// New creates a new Engine and makes sure its collection exists.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	e := &Engine{
		client:         client,
		collectionName: cfg.CollectionName,
		vectorSize:     cfg.VectorSize,
	}
	if err := e.initCollection(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) initCollection(ctx context.Context) error {
	exists, err := e.client.CollectionExists(ctx, e.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = e.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: e.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     e.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	wait := true
	_, err = e.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: e.collectionName,
		Wait:           &wait,
		FieldName:      fieldSessionID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", fieldSessionID, err)
	}
	return nil
}

func (e *Engine) Index(ctx context.Context, emb *store.MessageEmbedding) error {
	wait := true
	_, err := e.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: e.collectionName,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(uint64(emb.MessageID)),
			Vectors: qdrant.NewVectors(emb.Embedding...),
			Payload: map[string]*qdrant.Value{
				fieldSessionID: qdrant.NewValueString(emb.SessionID),
				fieldMessageID: qdrant.NewValueInt(emb.MessageID),
				fieldRole:      qdrant.NewValueString(string(emb.Role)),
				fieldContent:   qdrant.NewValueString(emb.Content),
				fieldCreatedAt: qdrant.NewValueInt(emb.CreatedAt.UnixMilli()),
			},
		}},
	})
	return err
}

func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	wait := true
	_, err := e.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: e.collectionName,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(fieldSessionID, sessionID)},
		}),
	})
	return err
}

func (e *Engine) Search(ctx context.Context, query []float32, excludingSessionID string, topK int) ([]retrieval.Hit, error) {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if retrieval.IsZero(query) {
		return []retrieval.Hit{}, nil
	}

	limit := uint64(topK)
	res, err := e.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: e.collectionName,
		Query:          qdrant.NewQuery(query...),
		Filter: &qdrant.Filter{
			MustNot: []*qdrant.Condition{qdrant.NewMatch(fieldSessionID, excludingSessionID)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]retrieval.Hit, 0, len(res))
	for _, p := range res {
		hits = append(hits, toHit(p))
	}
	return retrieval.Rank(hits, topK), nil
}

func toHit(p *qdrant.ScoredPoint) retrieval.Hit {
	payload := p.GetPayload()
	return retrieval.Hit{
		MessageID: payload[fieldMessageID].GetIntegerValue(),
		SessionID: payload[fieldSessionID].GetStringValue(),
		Role:      store.Role(payload[fieldRole].GetStringValue()),
		Content:   payload[fieldContent].GetStringValue(),
		Score:     float64(p.GetScore()),
		CreatedAt: time.UnixMilli(payload[fieldCreatedAt].GetIntegerValue()).UTC(),
	}
}

// Close closes the gRPC connection.
func (e *Engine) Close() error {
	return e.client.Close()
}
