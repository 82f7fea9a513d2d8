package penalty

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"vigil/internal/abuse/models"
	"vigil/pkg/platform/keymutex"
	"vigil/pkg/platform/requesttime"
)

// MemoryStore keeps violation tallies and penalties in an expiring
// in-process cache. The tally tracks its own expiry timestamp so the
// rolling window follows the request clock; the cache TTL is a backstop.
type MemoryStore struct {
	cache *gocache.Cache
	locks *keymutex.KeyMutex
}

type violationTally struct {
	count     int
	expiresAt time.Time
}

// NewMemoryStore creates a memory-backed penalty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 5*time.Minute),
		locks: keymutex.New(),
	}
}

func (s *MemoryStore) BumpViolations(ctx context.Context, key string, window time.Duration) (int, error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	now := requesttime.Now(ctx)
	if v, ok := s.cache.Get(key); ok {
		tally := v.(*violationTally)
		if now.Before(tally.expiresAt) {
			tally.count++
			return tally.count, nil
		}
		// Window lapsed between janitor runs; start a fresh tally.
	}
	tally := &violationTally{count: 1, expiresAt: now.Add(window)}
	s.cache.Set(key, tally, window)
	return 1, nil
}

func (s *MemoryStore) SetPenalty(_ context.Context, key string, p *models.Penalty, ttl time.Duration) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	cp := *p
	s.cache.Set(key, &cp, ttl)
	return nil
}

func (s *MemoryStore) GetPenalty(_ context.Context, key string) (*models.Penalty, error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	if v, ok := s.cache.Get(key); ok {
		cp := *v.(*models.Penalty)
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) ClearPenalty(_ context.Context, key string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	s.cache.Delete(key)
	return nil
}
