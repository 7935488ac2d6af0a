// Package factory opens a store.Store from configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/consts"
	"github.com/barekit/ragchat/pkg/store/inmemory"
	mongostore "github.com/barekit/ragchat/pkg/store/mongo"
	"github.com/barekit/ragchat/pkg/store/mssql"
	"github.com/barekit/ragchat/pkg/store/mysql"
	"github.com/barekit/ragchat/pkg/store/neo4j"
	"github.com/barekit/ragchat/pkg/store/postgres"
	"github.com/barekit/ragchat/pkg/store/sqlite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Type string

const (
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeMySQL    Type = "mysql"
	TypeMSSQL    Type = "mssql"
	TypeNeo4j    Type = "neo4j"
	TypeMongo    Type = "mongo"
	TypeInMemory Type = "inmemory"
)

const defaultNeo4jDB = "neo4j"

// Config holds configuration for store backends. Username and Password are
// only read by neo4j; the SQL backends and mongo take credentials in the
// connection string.
type Config struct {
	Type             Type
	ConnectionString string
	Username         string
	Password         string
	DBName           string
}

// New opens the configured store. SQL backends migrate their schema on open.
func New(ctx context.Context, cfg Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Type {
	case TypeSQLite:
		s, err = sqlite.New(cfg.ConnectionString)
	case TypePostgres:
		s, err = postgres.New(cfg.ConnectionString)
	case TypeMySQL:
		s, err = mysql.New(cfg.ConnectionString)
	case TypeMSSQL:
		s, err = mssql.New(cfg.ConnectionString)
	case TypeNeo4j:
		s, err = neo4j.New(cfg.ConnectionString, cfg.Username, cfg.Password, orDefault(cfg.DBName, defaultNeo4jDB))
	case TypeMongo:
		s, err = openMongo(ctx, cfg)
	case TypeInMemory:
		return inmemory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
	}
	return s, nil
}

func openMongo(ctx context.Context, cfg Config) (store.Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}
	s, err := mongostore.New(ctx, client, orDefault(cfg.DBName, consts.DefaultDBName))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
