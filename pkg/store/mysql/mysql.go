package mysql

import (
	"fmt"
	"time"

	gormstore "github.com/barekit/ragchat/pkg/store/gorm"
	driver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
)

// New creates a new MySQL store.
func New(dsn string) (*gormstore.Store, error) {
	normalized, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	return gormstore.Open(mysql.Open(normalized))
}

// NormalizeDSN forces parseTime and UTC so timestamps round-trip as
// time.Time in the same zone the other stores use.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}
