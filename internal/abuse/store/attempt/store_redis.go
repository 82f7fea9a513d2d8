package attempt

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vigil/internal/abuse/models"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// takeScript performs the prune-count-append sequence atomically on the
// server so concurrent checks for the same key serialize against the
// limit. Scores are microseconds; members carry a random suffix so two
// attempts in the same microsecond stay distinct.
//
// Returns {allowed, count, oldestScore}. On denial nothing is appended,
// so retries cannot grow the log.
var takeScript = redis.NewScript(`
local key     = KEYS[1]
local now     = tonumber(ARGV[1])
local window  = tonumber(ARGV[2])
local limit   = tonumber(ARGV[3])
local member  = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local score = now
  if oldest[2] then score = tonumber(oldest[2]) end
  return {0, count, score}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.ceil(window / 1000))
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(oldest[2])}
`)

// RedisStore keeps attempt logs in redis sorted sets, one ZSET per key.
// The store's own TTL equals the window; it is a liveness backstop, the
// prune inside the script is what bounds counting.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a redis-backed attempt store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (*models.WindowResult, error) {
	now := requesttime.Now(ctx)
	nowMicro := now.UnixMicro()
	member := uuid.NewString()

	raw, err := takeScript.Run(ctx, s.client, []string{key},
		nowMicro, window.Microseconds(), limit, member).Int64Slice()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "attempt log update failed")
	}
	if len(raw) != 3 {
		return nil, dErrors.New(dErrors.CodeInternal, "unexpected attempt script reply")
	}

	allowed := raw[0] == 1
	count := int(raw[1])
	resetAt := time.UnixMicro(raw[2]).Add(window)

	result := &models.WindowResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}
	if !allowed {
		result.Remaining = 0
		result.RetryAfter = retryAfterSeconds(resetAt, now)
	}
	return result, nil
}

func (s *RedisStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	now := requesttime.Now(ctx)
	cutoff := now.Add(-window).UnixMicro()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "attempt log count failed")
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "attempt log reset failed")
	}
	return nil
}
