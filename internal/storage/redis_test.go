package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	assert.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Health(ctx))
	require.NoError(t, client.Health(ctx))

	// the probe key expires on its own
	assert.Equal(t, "2", mustGet(t, mr, healthKey))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(healthKey))
}

func TestRedisClient_HealthFailsWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()
	cfg.MaxRetries = -1

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	assert.Error(t, client.Health(context.Background()))
}

func TestRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultRedisConfig()
	cfg.Address = addr
	cfg.MaxRetries = -1
	cfg.ConnectAttempts = 1
	cfg.ConnectDelay = time.Millisecond

	_, err := NewRedisClient(context.Background(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
