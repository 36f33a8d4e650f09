package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"guildgate/pkg/requestcontext"
)

// InviteRequest carries the query parameters of an invitation link.
type InviteRequest struct {
	CommunityID string
	SubjectID   string
	Signature   string
}

// InviteResult is where the caller should be redirected.
type InviteResult struct {
	RedirectURL string
	State       string
}

// Begin verifies an invitation and starts the OAuth round trip with a fresh
// signed state bound to the invited subject. Begin writes nothing.
func (s *Service) Begin(ctx context.Context, req InviteRequest) (*InviteResult, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Begin")
	defer span.End()

	if req.CommunityID == "" || req.SubjectID == "" || req.Signature == "" {
		return nil, s.beginFailed(ctx, span, "missing invite parameters")
	}
	if !s.codec.Verify(req.CommunityID, req.SubjectID, req.Signature) {
		return nil, s.beginFailed(ctx, span, "invite signature mismatch")
	}
	if req.CommunityID != s.cfg.CommunityID {
		return nil, s.beginFailed(ctx, span, "invite for another community")
	}
	span.SetAttributes(
		attribute.String("community_id", req.CommunityID),
		attribute.String("subject_id", req.SubjectID),
	)

	state, err := s.codec.IssueState(req.CommunityID, req.SubjectID, s.now(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue state")
		s.logger.ErrorContext(ctx, "failed to issue oauth state",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		s.metrics.IncFailure(string(ReasonInternal))
		return nil, fail(ReasonInternal, err)
	}

	s.metrics.IncInviteAccepted()
	s.logger.InfoContext(ctx, "invite accepted",
		"request_id", requestcontext.RequestID(ctx),
		"community_id", req.CommunityID,
		"subject_id", req.SubjectID,
	)
	return &InviteResult{
		RedirectURL: s.provider.AuthCodeURL(state.Raw),
		State:       state.Raw,
	}, nil
}

func (s *Service) beginFailed(ctx context.Context, span trace.Span, detail string) error {
	span.SetStatus(codes.Error, detail)
	s.logger.InfoContext(ctx, "invite rejected",
		"request_id", requestcontext.RequestID(ctx),
		"detail", detail,
	)
	s.metrics.IncFailure(string(ReasonInvalidToken))
	return fail(ReasonInvalidToken, nil)
}

// now prefers a request-scoped time so one request sees one clock reading.
func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.NowOr(ctx, s.clock)
}
