package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"guildgate/internal/admin"
	"guildgate/internal/audit"
	httpapi "guildgate/internal/http"
	jwttoken "guildgate/internal/jwt_token"
	"guildgate/internal/platform/config"
	"guildgate/internal/platform/kafka"
	platformredis "guildgate/internal/platform/redis"
	rlmetrics "guildgate/internal/ratelimit/metrics"
	rlmiddleware "guildgate/internal/ratelimit/middleware"
	rlmodels "guildgate/internal/ratelimit/models"
	"guildgate/internal/ratelimit/ports"
	rlservice "guildgate/internal/ratelimit/service"
	"guildgate/internal/ratelimit/store/bucket"
	"guildgate/internal/risk"
	vhandler "guildgate/internal/verification/handler"
	vmetrics "guildgate/internal/verification/metrics"
	"guildgate/internal/verification/service"
	"guildgate/internal/verification/store/nonce"
	"guildgate/pkg/platform/circuit"
)

const (
	nonceSweepInterval  = time.Minute
	bucketSweepInterval = 5 * time.Minute
)

// newOracle picks the HTTP oracle behind a circuit breaker when configured,
// and the fixed-score stub otherwise.
func newOracle(cfg *config.Config, m *vmetrics.Metrics, log *slog.Logger) (risk.Oracle, error) {
	if cfg.RiskOracle.URL == "" {
		log.Info("risk oracle not configured; using stub", "score", risk.DefaultStubScore)
		return risk.NewStub(), nil
	}
	oracle, err := risk.NewHTTPOracle(cfg.RiskOracle.URL,
		risk.WithAPIKey(cfg.RiskOracle.APIKey),
		risk.WithTimeout(cfg.ExternalCallTimeout),
		risk.WithBreaker(newOracleBreaker(cfg.RiskOracle)),
		risk.WithStateChangeHook(func(state circuit.State) {
			m.SetOracleBreakerOpen(state == circuit.StateOpen)
			log.Warn("risk oracle breaker changed state", "state", string(state))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("risk oracle: %w", err)
	}
	return oracle, nil
}

func newOracleBreaker(rc config.RiskOracleConfig, opts ...circuit.Option) *circuit.Breaker {
	opts = append([]circuit.Option{
		circuit.WithFailureThreshold(rc.FailureThreshold),
		circuit.WithCooldown(rc.Cooldown),
	}, opts...)
	return circuit.New("risk-oracle", opts...)
}

// newNonceSet uses Redis when configured so replicas share replay state;
// otherwise an in-process set swept by a background goroutine.
func newNonceSet(rdb *platformredis.Client, g *errgroup.Group, gctx context.Context, log *slog.Logger) service.NonceSet {
	if rdb != nil {
		log.Info("state replay guard backed by redis")
		return nonce.NewRedis(rdb)
	}

	log.Warn("REDIS_URL not set; state replay guard is per-process")
	set := nonce.NewInMemory()
	g.Go(func() error { return set.Run(gctx, nonceSweepInterval) })
	return set
}

// newRateLimiter returns nil when limiting is disabled. Counters are shared
// through Redis when available.
func newRateLimiter(cfg *config.Config, rdb *platformredis.Client, g *errgroup.Group, gctx context.Context, log *slog.Logger) (vhandler.RouteLimiter, error) {
	if cfg.RateLimit.Disabled {
		log.Warn("per-address rate limiting disabled")
		return nil, nil
	}

	var buckets ports.BucketStore
	if rdb != nil {
		buckets = bucket.NewRedisBucketStore(rdb)
	} else {
		mem := bucket.NewInMemoryBucketStore()
		g.Go(func() error { return mem.Run(gctx, bucketSweepInterval) })
		buckets = mem
	}

	limiter, err := rlservice.New(buckets, map[rlmodels.EndpointClass]rlmodels.Limit{
		rlmodels.ClassInvite:   {Requests: cfg.RateLimit.Invite, Window: cfg.RateLimit.Window},
		rlmodels.ClassCallback: {Requests: cfg.RateLimit.Callback, Window: cfg.RateLimit.Window},
	},
		rlservice.WithLogger(log),
		rlservice.WithMetrics(rlmetrics.New()),
	)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return rlmiddleware.New(limiter, log), nil
}

// newAdminAPI returns nil when the review API must stay unmounted: without
// its own secret, or while API_SECRET is the public development default.
func newAdminAPI(cfg *config.Config, records admin.Store, log *slog.Logger) (httpapi.Registrar, error) {
	if !cfg.AdminEnabled() {
		log.Warn("admin review API disabled; set ADMIN_JWT_SECRET and a non-default API_SECRET to enable it")
		return nil, nil
	}
	tokens, err := jwttoken.NewJWTService(cfg.Admin.JWTSecret, cfg.Admin.JWTIssuer, cfg.Admin.JWTAudience)
	if err != nil {
		return nil, fmt.Errorf("admin tokens: %w", err)
	}
	return admin.New(records, cfg.CommunityID, jwttoken.NewAdminValidator(tokens), log), nil
}

// newPublisher returns the Kafka outcome feed when brokers are configured and
// a log-only publisher otherwise.
func newPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (audit.Publisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return audit.NewLogPublisher(log), func() {}, nil
	}
	kcfg := kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: cfg.Kafka.ClientID,
	}
	client, err := kafka.NewClient(kcfg)
	if err != nil {
		return nil, nil, err
	}
	if err := kafka.EnsureTopic(ctx, client, kcfg); err != nil {
		client.Close()
		return nil, nil, err
	}
	publisher, err := audit.NewKafkaPublisher(client, kcfg.Topic)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	log.Info("outcome feed publishing to kafka", "topic", kcfg.Topic)
	return publisher, client.Close, nil
}
