package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"guildgate/internal/ratelimit/models"
)

const defaultRedisPrefix = "gg:rl:"

// RedisBucketStore counts requests in fixed windows shared by all replicas.
// One INCR and one PEXPIRE run in a MULTI so a key never outlives its window.
type RedisBucketStore struct {
	client redis.Cmdable
	prefix string
	clock  func() time.Time
}

type RedisOption func(*RedisBucketStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisBucketStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithRedisClock(clock func() time.Time) RedisOption {
	return func(s *RedisBucketStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewRedisBucketStore(client redis.Cmdable, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{
		client: client,
		prefix: defaultRedisPrefix,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.clock()
	start := now.Truncate(window)
	resetAt := start.Add(window)
	redisKey := s.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit counter %s: %w", key, err)
	}

	count := int(incr.Val())
	if count > limit {
		return models.Denied(limit, resetAt, now), nil
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}
