package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T, limit int, window time.Duration) *Limiter {
	t.Helper()
	addr := os.Getenv("PORTAL_TEST_REDIS")
	if addr == "" {
		t.Skip("PORTAL_TEST_REDIS not set")
	}

	client, err := Open(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return New(client, limit, window)
}

func TestLimiter_Allow(t *testing.T) {
	l := testLimiter(t, 3, time.Minute)
	ctx := context.Background()
	key := "login:member:" + uuid.NewString()
	t.Cleanup(func() { _ = l.Reset(ctx, key) })

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}

	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Reset(ctx, key))
	ok, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiter_WindowExpires(t *testing.T) {
	l := testLimiter(t, 1, time.Second)
	ctx := context.Background()
	key := "reset:leader:" + uuid.NewString()

	ok, _ := l.Allow(ctx, key)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, key)
	assert.False(t, ok)

	time.Sleep(1100 * time.Millisecond)

	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_RequiresAddr(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	l := New(nil, 0, 0)
	assert.Equal(t, int64(10), l.Limit)
	assert.Equal(t, 15*time.Minute, l.Window)
}
