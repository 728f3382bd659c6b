package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	config := Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: time.Minute,
	}
	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestManager_SetGetUsesPrefix(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	raw, err := mr.Get("test:k")
	require.NoError(t, err)
	assert.Equal(t, "v", raw)

	// ttl 为 0 时使用默认值
	assert.Equal(t, time.Minute, mr.TTL("test:k"))
}

func TestManager_MissAndStats(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	_, err := manager.Get(ctx, "absent")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, manager.Set(ctx, "present", "1", time.Minute))
	_, err = manager.Get(ctx, "present")
	require.NoError(t, err)

	stats, err := manager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Keys)
}

func TestManager_JSONRoundTrip(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	vec := []float64{0.25, 0.5, 0.25}
	require.NoError(t, manager.SetJSON(ctx, "vec", vec, time.Minute))

	var got []float64
	require.NoError(t, manager.GetJSON(ctx, "vec", &got))
	assert.Equal(t, vec, got)

	require.NoError(t, manager.Set(ctx, "broken", "not json", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "broken", &got))
	assert.Error(t, manager.SetJSON(ctx, "chan", make(chan int), time.Minute))
}

func TestManager_DeleteAndExpiry(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, manager.Set(ctx, "b", "2", 100*time.Millisecond))

	require.NoError(t, manager.Delete(ctx, "a"))
	_, err := manager.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	mr.FastForward(200 * time.Millisecond)
	_, err = manager.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, manager.Delete(ctx))
}

func TestManager_ClosedRejectsCalls(t *testing.T) {
	mr := miniredis.RunT(t)
	manager := NewManagerWithClient(NewClient(Config{Addr: mr.Addr()}), Config{Addr: mr.Addr()}, nil)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
}

func TestManager_ConnectFailure(t *testing.T) {
	manager, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_HealthCheckLoopStops(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{Addr: mr.Addr(), HealthCheckInterval: 5 * time.Millisecond}
	manager, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, manager.Close())
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.Set(ctx, key, "value", time.Minute))
			v, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", v)
		}(i)
	}
	wg.Wait()
}

func TestNewClient_TLS(t *testing.T) {
	plain := NewClient(Config{Addr: "localhost:6379"})
	defer plain.Close()
	assert.Nil(t, plain.Options().TLSConfig)

	secured := NewClient(Config{Addr: "localhost:6380", TLS: true})
	defer secured.Close()
	require.NotNil(t, secured.Options().TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), secured.Options().TLSConfig.MinVersion)
}
