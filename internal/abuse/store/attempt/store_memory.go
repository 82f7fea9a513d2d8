package attempt

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"vigil/internal/abuse/models"
	"vigil/pkg/platform/keymutex"
	"vigil/pkg/platform/requesttime"
)

// MemoryStore keeps attempt logs in an expiring in-process cache.
// Correctness comes from pruning against the request clock; the cache TTL
// only bounds memory for keys that go quiet.
type MemoryStore struct {
	cache *gocache.Cache
	locks *keymutex.KeyMutex
}

type attemptLog struct {
	stamps []time.Time
}

// NewMemoryStore creates a memory-backed attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 5*time.Minute),
		locks: keymutex.New(),
	}
}

func (s *MemoryStore) Take(ctx context.Context, key string, limit int, window time.Duration) (*models.WindowResult, error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	now := requesttime.Now(ctx)
	log := s.load(key)
	log.prune(now, window)

	if len(log.stamps) >= limit {
		resetAt := now.Add(window)
		if len(log.stamps) > 0 {
			resetAt = log.stamps[0].Add(window)
		}
		// Persist the prune but not the denied attempt (no growth on retry).
		s.cache.Set(key, log, window)
		return &models.WindowResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(resetAt, now),
		}, nil
	}

	log.stamps = append(log.stamps, now)
	s.cache.Set(key, log, window)

	return &models.WindowResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(log.stamps),
		ResetAt:   log.stamps[0].Add(window),
	}, nil
}

func (s *MemoryStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	log := s.load(key)
	log.prune(requesttime.Now(ctx), window)
	return len(log.stamps), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	s.cache.Delete(key)
	return nil
}

func (s *MemoryStore) load(key string) *attemptLog {
	if v, ok := s.cache.Get(key); ok {
		return v.(*attemptLog)
	}
	return &attemptLog{}
}

func (l *attemptLog) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(l.stamps); i++ {
		if l.stamps[i].After(cutoff) {
			break
		}
	}
	l.stamps = l.stamps[i:]
}

func retryAfterSeconds(resetAt, now time.Time) int {
	secs := int(resetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
