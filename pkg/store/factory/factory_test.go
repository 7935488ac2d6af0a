package factory

import (
	"context"
	"testing"

	gormstore "github.com/barekit/ragchat/pkg/store/gorm"
	"github.com/barekit/ragchat/pkg/store/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{Type: TypeInMemory})
	require.NoError(t, err)
	assert.IsType(t, &inmemory.InMemory{}, s)

	s, err = New(ctx, Config{Type: TypeSQLite, ConnectionString: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &gormstore.Store{}, s)
	require.NoError(t, s.Close())

	_, err = New(ctx, Config{Type: TypeMySQL, ConnectionString: "no-slash"})
	assert.ErrorContains(t, err, "failed to open mysql store")

	_, err = New(ctx, Config{Type: "cassandra"})
	assert.ErrorContains(t, err, "unsupported store type")
}
