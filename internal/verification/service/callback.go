package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"guildgate/internal/audit"
	"guildgate/internal/fingerprint"
	"guildgate/internal/identity"
	"guildgate/internal/token"
	"guildgate/internal/verification/metrics"
	"guildgate/internal/verification/models"
	"guildgate/pkg/platform/middleware/metadata"
	"guildgate/pkg/platform/sentinel"
	"guildgate/pkg/requestcontext"
)

// CallbackRequest carries the provider redirect and the caller's address.
type CallbackRequest struct {
	Code          string
	State         string
	ClientAddress string
	UserAgent     string
}

// CallbackResult is a committed decision.
type CallbackResult struct {
	CommunityID string
	SubjectID   string
	Outcome     models.Outcome
	RiskScore   int
}

// Message is the fixed user-facing text for the outcome.
func (r *CallbackResult) Message() string {
	return OutcomeMessage(r.Outcome)
}

func OutcomeMessage(o models.Outcome) string {
	switch o {
	case models.OutcomeGranted:
		return MessageGranted
	case models.OutcomeDeniedNetworkReuse:
		return MessageDeniedReuse
	default:
		return MessageDeniedHighRisk
	}
}

// Complete finishes the OAuth round trip and commits a decision.
//
// Nothing durable happens before the store decision: a failure or timeout in
// any earlier step leaves both the record and the state nonce untouched, so
// the caller can simply retry. Denials are results, not errors.
func (s *Service) Complete(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Complete")
	defer span.End()

	if req.Code == "" {
		return nil, s.completeFailed(ctx, span, fail(ReasonMissingCode, nil), "")
	}
	if req.State == "" {
		return nil, s.completeFailed(ctx, span, fail(ReasonInvalidToken, nil), "missing state")
	}
	now := s.now(ctx)
	state, err := s.codec.ParseState(req.State, now)
	if err != nil {
		return nil, s.completeFailed(ctx, span, fail(ReasonInvalidToken, err), "state rejected")
	}
	if state.CommunityID != s.cfg.CommunityID {
		return nil, s.completeFailed(ctx, span, fail(ReasonInvalidToken, nil), "state for another community")
	}
	span.SetAttributes(
		attribute.String("community_id", state.CommunityID),
		attribute.String("subject_id", state.SubjectID),
	)

	who, err := s.exchange(ctx, req.Code)
	if err != nil {
		return nil, s.completeFailed(ctx, span, err, "")
	}
	if who.ID != state.SubjectID {
		return nil, s.completeFailed(ctx, span, fail(ReasonInvalidToken, nil), "identity does not match invited subject")
	}

	addr := req.ClientAddress
	if addr == "" {
		addr = metadata.UnknownAddress
	}
	networkHash := s.hasher.Fingerprint(state.CommunityID, addr)

	score, err := s.score(ctx, addr)
	if err != nil {
		return nil, s.completeFailed(ctx, span, err, "")
	}

	if err := s.consumeNonce(ctx, state); err != nil {
		return nil, s.completeFailed(ctx, span, err, "")
	}

	outcome, err := s.decide(ctx, models.DecideRequest{
		CommunityID: state.CommunityID,
		SubjectID:   state.SubjectID,
		NetworkHash: networkHash,
		RiskScore:   score,
		Now:         now,
	})
	if err != nil {
		return nil, s.completeFailed(ctx, span, err, "")
	}

	span.SetAttributes(attribute.String("outcome", outcome.String()), attribute.Int("risk_score", score))
	s.metrics.IncOutcome(outcome.String())
	s.logger.InfoContext(ctx, "verification decided",
		"request_id", requestcontext.RequestID(ctx),
		"community_id", state.CommunityID,
		"subject_id", state.SubjectID,
		"outcome", outcome.String(),
		"risk_score", score,
		"ip_prefix", fingerprint.SubnetKey(addr),
	)
	s.emitter.Emit(ctx, audit.Event{
		ID:          uuid.New(),
		Type:        audit.EventVerificationOutcome,
		Timestamp:   now.UTC(),
		CommunityID: state.CommunityID,
		SubjectID:   state.SubjectID,
		Outcome:     outcome.String(),
		RiskScore:   score,
		NetworkHash: networkHash,
		RequestID:   requestcontext.RequestID(ctx),
		Client:      audit.SummarizeUserAgent(req.UserAgent),
	})

	return &CallbackResult{
		CommunityID: state.CommunityID,
		SubjectID:   state.SubjectID,
		Outcome:     outcome,
		RiskScore:   score,
	}, nil
}

func (s *Service) exchange(ctx context.Context, code string) (*identity.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	defer s.metrics.ObserveStep(metrics.StepExchange, time.Now())

	who, err := s.provider.Exchange(ctx, code)
	switch {
	case err == nil:
		if who == nil || who.ID == "" {
			return nil, fail(ReasonIdentityFetch, errors.New("provider returned no identity"))
		}
		return who, nil
	case isDeadline(ctx, err):
		return nil, fail(ReasonTimeout, err)
	case errors.Is(err, identity.ErrFetch):
		return nil, fail(ReasonIdentityFetch, err)
	default:
		return nil, fail(ReasonOAuthExchange, err)
	}
}

func (s *Service) score(ctx context.Context, addr string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	defer s.metrics.ObserveStep(metrics.StepOracle, time.Now())

	score, err := s.oracle.Score(ctx, addr)
	switch {
	case err == nil:
		return score, nil
	case isDeadline(ctx, err):
		return 0, fail(ReasonTimeout, err)
	default:
		return 0, fail(ReasonRiskUnavailable, err)
	}
}

func (s *Service) consumeNonce(ctx context.Context, state token.State) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	defer s.metrics.ObserveStep(metrics.StepNonce, time.Now())

	err := s.nonces.Consume(ctx, state.Nonce, s.codec.StateTTL())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return fail(ReasonInvalidToken, err)
	case isDeadline(ctx, err):
		return fail(ReasonTimeout, err)
	default:
		return fail(ReasonStoreUnavailable, err)
	}
}

func (s *Service) decide(ctx context.Context, req models.DecideRequest) (models.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	defer s.metrics.ObserveStep(metrics.StepDecide, time.Now())

	outcome, err := s.store.Decide(ctx, req)
	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, sentinel.ErrInvalidState):
		return "", fail(ReasonInternal, err)
	default:
		// A decide that ran out of time may or may not have committed; either
		// way the caller sees a retryable failure and never a grant.
		return "", fail(ReasonStoreUnavailable, err)
	}
}

func (s *Service) completeFailed(ctx context.Context, span trace.Span, err error, detail string) error {
	reason := ReasonOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(reason))
	s.metrics.IncFailure(string(reason))

	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"reason", string(reason),
		"error", err,
	}
	if detail != "" {
		attrs = append(attrs, "detail", detail)
	}
	switch reason {
	case ReasonStoreUnavailable, ReasonRiskUnavailable, ReasonInternal:
		s.logger.ErrorContext(ctx, "verification failed", attrs...)
	default:
		s.logger.InfoContext(ctx, "verification rejected", attrs...)
	}
	return err
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
