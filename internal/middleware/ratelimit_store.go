package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/sataplan/server/internal/cache"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// sweepEvery bounds how often the in-memory store scans for dead windows.
const sweepEvery = time.Minute

type rateWindow struct {
	hits  int
	reset time.Time
}

// memoryRateStore provides process-local rate limiting. Expired windows are
// swept inline during Increment, so no background goroutine is needed.
type memoryRateStore struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	lastSweep time.Time
	clock     func() time.Time
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{
		windows: make(map[string]*rateWindow),
		clock:   time.Now,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepEvery {
		for k, w := range s.windows {
			if now.After(w.reset) {
				delete(s.windows, k)
			}
		}
		s.lastSweep = now
	}

	w := s.windows[key]
	if w == nil || now.After(w.reset) {
		w = &rateWindow{reset: now.Add(window)}
		s.windows[key] = w
	}
	w.hits++

	return w.hits, w.reset.Sub(now), nil
}

// sharedRateStore delegates counting to a cache.Store, letting several
// replicas enforce one combined limit.
type sharedRateStore struct {
	store cache.Store
}

// NewRedisRateStore wraps a Redis-backed cache store in a RateStore implementation.
func NewRedisRateStore(store cache.Store) RateStore {
	return newSharedRateStore(store)
}

// NewDatabaseRateStore builds a RateStore based on the SQL database cache.
func NewDatabaseRateStore(store cache.Store) RateStore {
	return newSharedRateStore(store)
}

func newSharedRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &sharedRateStore{store: store}
}

func (s *sharedRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
