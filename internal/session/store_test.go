package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestSaveAndConsume(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	userID := uuid.New()

	require.NoError(t, store.Save(context.Background(), userID, "jti-1"))

	ok, err := store.CheckAndConsume(context.Background(), userID, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Consumed: the same jti no longer matches.
	ok, err = store.CheckAndConsume(context.Background(), userID, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsume_WrongJTI(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	userID := uuid.New()

	require.NoError(t, store.Save(context.Background(), userID, "jti-1"))

	ok, err := store.CheckAndConsume(context.Background(), userID, "jti-2")
	require.NoError(t, err)
	assert.False(t, ok)

	// The mismatch still consumed the stored jti.
	ok, err = store.CheckAndConsume(context.Background(), userID, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave_ReplacesPrevious(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	userID := uuid.New()

	require.NoError(t, store.Save(context.Background(), userID, "jti-1"))
	require.NoError(t, store.Save(context.Background(), userID, "jti-2"))

	ok, err := store.CheckAndConsume(context.Background(), userID, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave_Expires(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	userID := uuid.New()

	require.NoError(t, store.Save(context.Background(), userID, "jti-1"))
	mr.FastForward(2 * time.Minute)

	ok, err := store.CheckAndConsume(context.Background(), userID, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
