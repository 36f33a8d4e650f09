package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"guildgate/internal/audit"
	"guildgate/internal/fingerprint"
	httpapi "guildgate/internal/http"
	"guildgate/internal/identity"
	"guildgate/internal/platform/config"
	"guildgate/internal/platform/httpserver"
	"guildgate/internal/platform/logger"
	platformmetrics "guildgate/internal/platform/metrics"
	"guildgate/internal/platform/postgres"
	platformredis "guildgate/internal/platform/redis"
	"guildgate/internal/token"
	vhandler "guildgate/internal/verification/handler"
	vmetrics "guildgate/internal/verification/metrics"
	"guildgate/internal/verification/service"
	"guildgate/internal/verification/store"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	if err := run(); err != nil {
		slog.Error("guildgate stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	if cfg.UsesDefaultSecret() {
		log.Warn("API_SECRET is the development default; set a real secret shared with the bot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, postgres.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	codec, err := token.New(cfg.APISecret, token.WithStateTTL(cfg.StateTTL))
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	hasher, err := fingerprint.NewHasher(cfg.APISecret)
	if err != nil {
		return fmt.Errorf("fingerprint hasher: %w", err)
	}
	provider, err := identity.NewDiscord(identity.DiscordConfig{
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret,
		RedirectURL:  cfg.Discord.RedirectURL,
	})
	if err != nil {
		return err
	}

	verificationMetrics := vmetrics.New()
	oracle, err := newOracle(cfg, verificationMetrics, log)
	if err != nil {
		return err
	}
	records := store.NewPostgres(db, store.WithTxTimeout(cfg.ExternalCallTimeout))

	g, gctx := errgroup.WithContext(ctx)

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	nonces := newNonceSet(rdb, g, gctx, log)
	limiter, err := newRateLimiter(cfg, rdb, g, gctx, log)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	worker := audit.NewWorker(publisher,
		audit.WithLogger(log),
		audit.WithDropHook(func(audit.Event) { verificationMetrics.IncAuditDropped() }),
		audit.WithFailureHook(func(audit.Event, error) { verificationMetrics.IncAuditPublishFailure() }),
	)
	g.Go(func() error { return worker.Run(gctx) })

	svc, err := service.New(
		service.Config{CommunityID: cfg.CommunityID, ExternalCallTimeout: cfg.ExternalCallTimeout},
		codec, hasher, provider, oracle, records, nonces,
		service.WithLogger(log),
		service.WithMetrics(verificationMetrics),
		service.WithAuditEmitter(worker),
	)
	if err != nil {
		return err
	}

	adminAPI, err := newAdminAPI(cfg, records, log)
	if err != nil {
		return err
	}
	features := []httpapi.Registrar{vhandler.New(svc, log, verificationOptions(limiter)...)}
	if adminAPI != nil {
		features = append(features, adminAPI)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:     log,
		Metrics:    platformmetrics.New(),
		Exposition: promhttp.Handler(),
		Features:   features,
	})

	srv := httpserver.New(cfg.Addr(), router)
	g.Go(func() error {
		log.Info("starting guildgate",
			"addr", cfg.Addr(),
			"community_id", cfg.CommunityID,
			"database_driver", cfg.Database.Driver,
		)
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("guildgate shut down cleanly")
	return nil
}

func verificationOptions(limiter vhandler.RouteLimiter) []vhandler.Option {
	if limiter == nil {
		return nil
	}
	return []vhandler.Option{vhandler.WithLimiter(limiter)}
}
