package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"guildgate/pkg/platform/sentinel"
)

const keyPrefix = "gg:state:nonce:"

// Redis shares consumed nonces across instances. SET NX with an expiry makes
// the check and the mark a single round trip.
type Redis struct {
	client redis.Cmdable
	prefix string
}

type RedisOption func(*Redis)

// WithKeyPrefix namespaces keys when several deployments share one Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: keyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" || ttl <= 0 {
		return sentinel.ErrInvalidState
	}
	ok, err := r.client.SetNX(ctx, r.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("consume nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
