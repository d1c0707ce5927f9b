package breaker_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medvoice/internal/breaker"
)

// Requires a running redis instance; skipped unless MEDVOICE_REDIS_TEST_ADDR
// is set (e.g. "localhost:6379").
func newTestRedisStore(t *testing.T) *breaker.RedisStore {
	t.Helper()
	addr := os.Getenv("MEDVOICE_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("MEDVOICE_REDIS_TEST_ADDR not set, skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return breaker.NewRedisStore(client, "medvoice:breaker:test:")
}

func TestRedisStore_UpdateAndView(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	rec, err := store.View(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, rec.State, "unknown provider starts closed")

	rec, err = store.Update(ctx, "openai", func(r *breaker.Record) {
		r.State = breaker.StateOpen
		r.ConsecutiveFailures = 5
		r.LastFailureAt = time.Now().UTC()
	})
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, rec.State)

	rec, err = store.View(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, rec.State)
	assert.Equal(t, 5, rec.ConsecutiveFailures)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "openai")
}

func TestRedisStore_ConcurrentUpdatesSerialize(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := store.Update(ctx, "shared", func(r *breaker.Record) {
					r.TotalCalls++
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	rec, err := store.View(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.TotalCalls)
}

func TestRedisStore_SharedAcrossInstances(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	first := breaker.New("whisper-local", testSettings(), store)
	second := breaker.New("whisper-local", testSettings(), store)

	for i := 0; i < 3; i++ {
		require.NoError(t, first.RecordFailure(ctx, assert.AnError))
	}

	allowed, err := second.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, allowed, "open state is visible to the second instance")
}
