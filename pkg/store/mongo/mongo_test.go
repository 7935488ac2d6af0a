package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/storetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("RAGCHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("Skipping mongo store test: RAGCHAT_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		require.NoError(t, err)

		dbName := "ragchat_test_" + uuid.NewString()[:8]
		s, err := New(ctx, client, dbName)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = client.Database(dbName).Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}
