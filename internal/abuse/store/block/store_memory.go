package block

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"vigil/internal/abuse/models"
	"vigil/pkg/platform/requesttime"
)

// MemoryStore keeps block records in an expiring in-process cache.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a memory-backed block store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(gocache.NoExpiration, 5*time.Minute)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, rec *models.BlockRecord) error {
	ttl := rec.BlockedUntil.Sub(requesttime.Now(ctx))
	if ttl <= 0 {
		return nil // already expired, nothing to store
	}
	cp := *rec
	s.cache.Set(key, &cp, ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.BlockRecord, error) {
	if v, ok := s.cache.Get(key); ok {
		cp := *v.(*models.BlockRecord)
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
