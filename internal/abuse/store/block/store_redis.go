package block

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"vigil/internal/abuse/models"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// RedisStore keeps block records as JSON values expiring server-side.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a redis-backed block store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, key string, rec *models.BlockRecord) error {
	ttl := rec.BlockedUntil.Sub(requesttime.Now(ctx))
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode block record")
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "block write failed")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.BlockRecord, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "block read failed")
	}
	var rec models.BlockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode block record")
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "block delete failed")
	}
	return nil
}
