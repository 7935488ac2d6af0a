package sqlite

import (
	"fmt"
	"strings"

	gormstore "github.com/barekit/ragchat/pkg/store/gorm"
	"gorm.io/driver/sqlite"
)

// New creates a new SQLite store.
func New(dsn string) (*gormstore.Store, error) {
	s, err := gormstore.Open(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}

	// Every connection to an in-memory database gets its own empty database,
	// so keep exactly one.
	if isMemory(dsn) {
		sqlDB, err := s.DB().DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return s, nil
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
