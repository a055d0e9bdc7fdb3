// Package redis keeps the quota ledger in Redis hashes and decides each
// reservation inside a Lua script, which Redis runs atomically.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"relayer/internal/domain"
)

// reserveScript returns {code, session, daily}; code 0 accepted, 1 session
// cap reached, 2 daily cap reached.
var reserveScript = redis.NewScript(`
local session = tonumber(redis.call("HGET", KEYS[1], "session") or "0")
local daily = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
if session >= tonumber(ARGV[2]) then
  return {1, session, daily}
end
if daily >= tonumber(ARGV[3]) then
  return {2, session, daily}
end
session = redis.call("HINCRBY", KEYS[1], "session", 1)
daily = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
return {0, session, daily}
`)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// QuotaStore implements domain.QuotaRepository in Redis.
type QuotaStore struct {
	client *redis.Client
}

var _ domain.QuotaRepository = (*QuotaStore)(nil)

// NewQuotaStore creates a quota store backed by Redis hashes.
func NewQuotaStore(client *redis.Client) *QuotaStore {
	return &QuotaStore{client: client}
}

// Reserve runs the reservation script for userKey.
func (s *QuotaStore) Reserve(ctx context.Context, userKey, day string, limits domain.QuotaLimits) (domain.QuotaUsage, error) {
	res, err := reserveScript.Run(ctx, s.client,
		[]string{quotaKey(userKey)}, dayField(day), limits.MaxPerSession, limits.MaxPerDay,
	).Int64Slice()
	if err != nil {
		return domain.QuotaUsage{}, err
	}
	if len(res) != 3 {
		return domain.QuotaUsage{}, fmt.Errorf("unexpected reserve reply %v", res)
	}

	usage := domain.QuotaUsage{Session: int(res[1]), Daily: int(res[2])}
	switch res[0] {
	case 1:
		return usage, domain.ErrSessionQuotaExceeded
	case 2:
		return usage, domain.ErrDailyQuotaExceeded
	}
	return usage, nil
}

// Usage reads the counters for userKey on day.
func (s *QuotaStore) Usage(ctx context.Context, userKey, day string) (domain.QuotaUsage, error) {
	vals, err := s.client.HMGet(ctx, quotaKey(userKey), "session", dayField(day)).Result()
	if err != nil {
		return domain.QuotaUsage{}, err
	}
	return domain.QuotaUsage{Session: toInt(vals[0]), Daily: toInt(vals[1])}, nil
}

func quotaKey(userKey string) string {
	return "relay:quota:" + userKey
}

func dayField(day string) string {
	return "day:" + day
}

func toInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
