// Package ports defines the storage boundary of the rate limiter.
package ports

import (
	"context"
	"time"

	"guildgate/internal/ratelimit/models"
)

// BucketStore counts requests per key within a window.
type BucketStore interface {
	// Allow checks if a single request is allowed and consumes one slot if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}
