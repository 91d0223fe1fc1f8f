package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Hit is the state of a fixed window after one more request was counted.
type Hit struct {
	// Count is the number of requests seen in the current window, including this one.
	Count int64
	// ResetAt is when the current window expires and the count starts over.
	ResetAt time.Time
}

// Store keeps fixed-window request counters.
type Store interface {
	// Increment counts one request for key. The first request opens a window
	// of the given length; later requests inside it share its expiry.
	Increment(ctx context.Context, key string, window time.Duration) (Hit, error)
	// Reset forgets the counter for key.
	Reset(ctx context.Context, key string) error
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a process-local Store. Counters of separate replicas are
// independent, use RedisStore to share them.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a MemoryStore that drops expired windows every
// cleanupInterval (one minute when zero).
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.cleanup(cleanupInterval)
	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		s.windows[key] = w
	}
	w.count++

	return Hit{Count: w.count, ResetAt: w.resetAt}, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Len returns the number of tracked windows (for testing/metrics)
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}
