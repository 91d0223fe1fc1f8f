package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemoryStore(t *testing.T, clock *fakeClock) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(time.Hour)
	s.now = clock.Now
	t.Cleanup(s.Stop)
	return s
}

func TestMemoryStoreIncrement(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	hit, err := s.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hit.Count)
	assert.Equal(t, clock.Now().Add(time.Minute), hit.ResetAt)

	clock.Advance(30 * time.Second)
	hit, err = s.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hit.Count)
	assert.Equal(t, clock.Now().Add(30*time.Second), hit.ResetAt, "window expiry is fixed by the first hit")

	hit, err = s.Increment(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hit.Count, "keys are counted separately")
}

func TestMemoryStoreWindowExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	for i := 0; i < 3; i++ {
		_, err := s.Increment(ctx, "a", time.Minute)
		require.NoError(t, err)
	}

	clock.Advance(time.Minute)
	hit, err := s.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hit.Count)
}

func TestMemoryStoreReset(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	_, _ = s.Increment(ctx, "a", time.Minute)
	_, _ = s.Increment(ctx, "a", time.Minute)
	require.NoError(t, s.Reset(ctx, "a"))

	hit, err := s.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hit.Count)
}

func TestMemoryStoreRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	_, _ = s.Increment(ctx, "short", time.Second)
	_, _ = s.Increment(ctx, "long", time.Hour)
	require.Equal(t, 2, s.Len())

	clock.Advance(2 * time.Second)
	s.removeExpired()
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Increment(ctx, "a", time.Minute)
		}()
	}
	wg.Wait()

	hit, err := s.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(51), hit.Count)
}
