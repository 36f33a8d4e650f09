// Package service coordinates the verification flow: invite verification,
// the OAuth round trip, fingerprinting, risk scoring and the store decision.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"guildgate/internal/audit"
	"guildgate/internal/fingerprint"
	"guildgate/internal/identity"
	"guildgate/internal/risk"
	"guildgate/internal/token"
	"guildgate/internal/verification/metrics"
	"guildgate/internal/verification/models"
)

const (
	DefaultExternalCallTimeout = 5 * time.Second

	tracerName = "guildgate/verification"
)

// Store commits decisions. Decide must perform the reuse check and the write
// atomically for a given (community, network).
type Store interface {
	Decide(ctx context.Context, req models.DecideRequest) (models.Outcome, error)
}

// NonceSet records consumed state nonces. A replay returns
// sentinel.ErrAlreadyUsed.
type NonceSet interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}

// AuditEmitter queues outcome events. It must not block.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event)
}

type Config struct {
	// CommunityID is the only community this gate serves.
	CommunityID string
	// ExternalCallTimeout bounds each provider, oracle and store call.
	ExternalCallTimeout time.Duration
}

// Service is safe for concurrent use. All collaborators are injected and
// immutable after construction.
type Service struct {
	cfg      Config
	codec    *token.Codec
	hasher   *fingerprint.Hasher
	provider identity.Provider
	oracle   risk.Oracle
	store    Store
	nonces   NonceSet
	emitter  AuditEmitter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	clock    func() time.Time
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

func WithAuditEmitter(e AuditEmitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(
	cfg Config,
	codec *token.Codec,
	hasher *fingerprint.Hasher,
	provider identity.Provider,
	oracle risk.Oracle,
	store Store,
	nonces NonceSet,
	opts ...Option,
) (*Service, error) {
	switch {
	case cfg.CommunityID == "":
		return nil, errors.New("community id is required")
	case codec == nil:
		return nil, errors.New("token codec is required")
	case hasher == nil:
		return nil, errors.New("fingerprint hasher is required")
	case provider == nil:
		return nil, errors.New("identity provider is required")
	case oracle == nil:
		return nil, errors.New("risk oracle is required")
	case store == nil:
		return nil, errors.New("verification store is required")
	case nonces == nil:
		return nil, errors.New("nonce set is required")
	}
	if cfg.ExternalCallTimeout <= 0 {
		cfg.ExternalCallTimeout = DefaultExternalCallTimeout
	}

	s := &Service{
		cfg:      cfg,
		codec:    codec,
		hasher:   hasher,
		provider: provider,
		oracle:   risk.TrustedNetworkBypass(oracle),
		store:    store,
		nonces:   nonces,
		emitter:  discardEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CommunityID reports the community this service gates.
func (s *Service) CommunityID() string {
	return s.cfg.CommunityID
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, audit.Event) {}
