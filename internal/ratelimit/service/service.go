// Package service applies per-class request budgets to client addresses.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"guildgate/internal/fingerprint"
	"guildgate/internal/ratelimit/metrics"
	"guildgate/internal/ratelimit/models"
	"guildgate/internal/ratelimit/ports"
	dErrors "guildgate/pkg/domain-errors"
)

// unconfiguredRetryAfter is returned for classes with no budget.
const unconfiguredRetryAfter = 60

type Service struct {
	buckets ports.BucketStore
	limits  map[models.EndpointClass]models.Limit
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New validates every configured budget up front.
func New(buckets ports.BucketStore, limits map[models.EndpointClass]models.Limit, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("bucket store is required")
	}
	for class, l := range limits {
		if l.Requests <= 0 || l.Window <= 0 {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "rate limit for "+string(class)+" must be positive")
		}
	}
	s := &Service{
		buckets: buckets,
		limits:  limits,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckIP consumes one request from ip's budget for class. A class with no
// configured budget is denied rather than left unlimited.
func (s *Service) CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit, ok := s.limits[class]
	if !ok {
		s.logger.WarnContext(ctx, "no rate limit configured for class", "class", class)
		now := s.clock()
		return models.Denied(0, now.Add(unconfiguredRetryAfter*time.Second), now), nil
	}

	res, err := s.buckets.Allow(ctx, models.IPKey(class, ip), limit.Requests, limit.Window)
	if err != nil {
		s.metrics.IncStoreError()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit store unavailable")
	}
	if !res.Allowed {
		s.metrics.IncRejected(class)
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"class", class,
			"ip_prefix", fingerprint.SubnetKey(ip),
			"retry_after", res.RetryAfter,
		)
	}
	return res, nil
}
