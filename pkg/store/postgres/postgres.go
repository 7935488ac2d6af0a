package postgres

import (
	gormstore "github.com/barekit/ragchat/pkg/store/gorm"
	"gorm.io/driver/postgres"
)

// New creates a new Postgres store. The same connection can back the
// pgvector engine through Store.DB.
func New(dsn string) (*gormstore.Store, error) {
	return gormstore.Open(postgres.Open(dsn))
}
