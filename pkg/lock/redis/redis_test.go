package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	url := os.Getenv("RAGCHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping redis lock test: RAGCHAT_TEST_REDIS_URL not set")
	}
	l, client, err := NewFromURL(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return l
}

func TestLocker_Exclusive(t *testing.T) {
	l := newTestLocker(t)
	key := uuid.NewString()

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
}

func TestNewFromURL_BadURL(t *testing.T) {
	_, _, err := NewFromURL(context.Background(), "not a url", 0)
	assert.Error(t, err)
}
