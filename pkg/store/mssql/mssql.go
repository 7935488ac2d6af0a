package mssql

import (
	gormstore "github.com/barekit/ragchat/pkg/store/gorm"
	"gorm.io/driver/sqlserver"
)

// New creates a new SQL Server store.
func New(dsn string) (*gormstore.Store, error) {
	return gormstore.Open(sqlserver.Open(dsn))
}
