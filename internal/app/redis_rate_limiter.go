package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var withdrawalRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// WithdrawalRateLimiter bounds how often a single user can initiate withdrawals.
// A zero retry-after means the request may proceed.
type WithdrawalRateLimiter interface {
	ConsumeWithdrawalSlot(ctx context.Context, subject string) (retryAfterSeconds int, err error)
}

// RedisWithdrawalRateLimiter implements distributed rate limiting using Redis.
type RedisWithdrawalRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisWithdrawalRateLimiter(client redis.UniversalClient, prefix string, limitPerMinute int) *RedisWithdrawalRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "wallet:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisWithdrawalRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limitPerMinute,
		window: time.Minute,
	}
}

// ConsumeWithdrawalSlot counts one withdrawal attempt for the subject within the
// current window. When the limit is exceeded it returns how long the caller
// should wait before retrying. Limiter misconfiguration fails open.
func (r *RedisWithdrawalRateLimiter) ConsumeWithdrawalSlot(ctx context.Context, subject string) (int, error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return 0, nil
	}

	normalizedSubject := strings.TrimSpace(subject)
	if normalizedSubject == "" {
		return 0, nil
	}

	key := fmt.Sprintf("%s:withdraw:%s", r.prefix, normalizedSubject)
	result, err := withdrawalRateLimitScript.Run(ctx, r.client, []string{key}, r.window.Milliseconds()).Slice()
	if err != nil {
		return 0, err
	}
	if len(result) != 2 {
		return 0, fmt.Errorf("unexpected rate limit script reply: %v", result)
	}

	count, ok := result[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected rate limit count type: %T", result[0])
	}
	ttlMillis, ok := result[1].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected rate limit ttl type: %T", result[1])
	}

	if count <= int64(r.limit) {
		return 0, nil
	}

	retryAfter := int(math.Ceil(float64(ttlMillis) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter, nil
}
