package nonce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestKey(t *testing.T) {
	assert.Equal(t, "hmac:nonce:client-1:n1", Key("client-1", "n1"))
}

func TestMemoryAddOnce(t *testing.T) {
	m := NewMemory(100, time.Hour)
	ctx := context.Background()

	ok, err := m.Add(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Add(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Add(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryPerEntryExpiry(t *testing.T) {
	m := NewMemory(100, time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := m.Add(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(59 * time.Second)
	ok, _ = m.Add(ctx, "k", time.Minute)
	assert.False(t, ok, "still inside ttl")

	now = now.Add(2 * time.Second)
	ok, _ = m.Add(ctx, "k", time.Minute)
	assert.True(t, ok, "ttl elapsed")
}

func TestMemoryRejectsTTLAboveMax(t *testing.T) {
	m := NewMemory(10, time.Minute)
	_, err := m.Add(context.Background(), "k", time.Hour)
	assert.Error(t, err)
}

func TestMemoryConcurrentAddSingleWinner(t *testing.T) {
	m := NewMemory(1000, time.Hour)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := m.Add(context.Background(), "race", time.Minute); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisAddOnce(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	ok, err := store.Add(ctx, Key("c", "n1"), 6*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Add(ctx, Key("c", "n1"), 6*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 6*time.Minute, mr.TTL(Key("c", "n1")))

	mr.FastForward(7 * time.Minute)
	ok, err = store.Add(ctx, Key("c", "n1"), 6*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "marker expired")
}

func TestRedisPing(t *testing.T) {
	_, store := setupMiniRedis(t)
	require.NoError(t, store.Ping(context.Background()))
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis("not a url")
	assert.Error(t, err)
}

func TestMemoryImplementsStore(t *testing.T) {
	var _ Store = NewMemory(1, time.Minute)
	var _ Store = (*Redis)(nil)
}
