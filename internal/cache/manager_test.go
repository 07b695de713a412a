package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManagerWithClient(client, DefaultConfig(), zap.NewNop())
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func TestManagerNilLogger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	m := NewManagerWithClient(client, DefaultConfig(), nil)
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.Set(context.Background(), "k", "v", time.Minute))
}

func TestManagerSetGet(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	val, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestManagerGetMiss(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManagerJSONRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	type payload struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	require.NoError(t, m.SetJSON(ctx, "p", payload{Name: "a", Score: 0.5}, 0))

	var got payload
	require.NoError(t, m.GetJSON(ctx, "p", &got))
	assert.Equal(t, "a", got.Name)
	assert.InDelta(t, 0.5, got.Score, 1e-9)
}

func TestManagerGetJSONMalformed(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "bad", "{not json", time.Minute))

	var dest map[string]any
	assert.Error(t, m.GetJSON(ctx, "bad", &dest))
}

func TestManagerDefaultTTL(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	// Zero TTL falls back to the configured default.
	require.NoError(t, m.Set(ctx, "k", "v", 0))
	assert.Equal(t, DefaultConfig().DefaultTTL, mr.TTL("k"))
}

func TestManagerExpiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManagerDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, m.Delete(ctx, "a", "b"))

	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManagerClosed(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Close())

	_, err := m.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, m.Set(context.Background(), "k", "v", 0))
	assert.Error(t, m.Ping(context.Background()))

	// Second close is a no-op.
	assert.NoError(t, m.Close())
}

func TestManagerPing(t *testing.T) {
	m, mr := newTestManager(t)
	require.NoError(t, m.Ping(context.Background()))

	mr.Close()
	assert.Error(t, m.Ping(context.Background()))
}
