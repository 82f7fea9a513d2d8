package penalty

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/internal/abuse/models"
	dErrors "vigil/pkg/domain-errors"
)

// bumpScript increments the tally and sets the window TTL only when the
// key is new, so the count is a rolling tally that resets by TTL alone.
var bumpScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisStore keeps violation tallies as plain counters and penalties as
// JSON values, both expiring server-side.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a redis-backed penalty store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) BumpViolations(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := bumpScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "violation bump failed")
	}
	return count, nil
}

func (s *RedisStore) SetPenalty(ctx context.Context, key string, p *models.Penalty, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode penalty")
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "penalty write failed")
	}
	return nil
}

func (s *RedisStore) GetPenalty(ctx context.Context, key string) (*models.Penalty, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "penalty read failed")
	}
	var p models.Penalty
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode penalty")
	}
	return &p, nil
}

func (s *RedisStore) ClearPenalty(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "penalty clear failed")
	}
	return nil
}
