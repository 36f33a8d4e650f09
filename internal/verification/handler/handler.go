// Package handler exposes the browser-facing verification endpoints. Every
// response body is a short fixed text; causes are logged by the service and
// never echoed.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	rlmodels "guildgate/internal/ratelimit/models"
	"guildgate/internal/verification/service"
	dErrors "guildgate/pkg/domain-errors"
	"guildgate/pkg/platform/httputil"
	"guildgate/pkg/platform/middleware/metadata"
	"guildgate/pkg/requestcontext"
)

// Service defines the verification operations the handler drives.
type Service interface {
	Begin(ctx context.Context, req service.InviteRequest) (*service.InviteResult, error)
	Complete(ctx context.Context, req service.CallbackRequest) (*service.CallbackResult, error)
}

// RouteLimiter throttles a class of routes.
type RouteLimiter interface {
	RateLimit(class rlmodels.EndpointClass) func(http.Handler) http.Handler
}

// Handler wires verification endpoints to the verification service.
type Handler struct {
	service Service
	logger  *slog.Logger
	limiter RouteLimiter
}

type Option func(*Handler)

// WithLimiter throttles /invite, /v and /callback per client address.
func WithLimiter(limiter RouteLimiter) Option {
	return func(h *Handler) {
		h.limiter = limiter
	}
}

func New(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: svc,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the public endpoints. /v is the short form used in bot
// messages.
func (h *Handler) Register(r chi.Router) {
	r.With(h.limit(rlmodels.ClassInvite)...).Get("/invite", h.HandleInvite)
	r.With(h.limit(rlmodels.ClassInvite)...).Get("/v", h.HandleInvite)
	r.With(h.limit(rlmodels.ClassCallback)...).Get("/callback", h.HandleCallback)
	r.Get("/health", h.HandleHealth)
}

func (h *Handler) limit(class rlmodels.EndpointClass) []func(http.Handler) http.Handler {
	if h.limiter == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{h.limiter.RateLimit(class)}
}

// HandleInvite handles GET /invite?g=&u=&s= by redirecting to the identity
// provider.
func (h *Handler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.Begin(r.Context(), service.InviteRequest{
		CommunityID: q.Get("g"),
		SubjectID:   q.Get("u"),
		Signature:   q.Get("s"),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// HandleCallback handles GET /callback?code=&state= from the identity
// provider. Grants answer 200, denials 403.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	clientIP := requestcontext.ClientIP(ctx)
	if clientIP == "" {
		clientIP = metadata.ClientIPFromRequest(r)
	}
	userAgent := requestcontext.UserAgent(ctx)
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	res, err := h.service.Complete(ctx, service.CallbackRequest{
		Code:          q.Get("code"),
		State:         q.Get("state"),
		ClientAddress: clientIP,
		UserAgent:     userAgent,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	status := http.StatusOK
	if !res.Outcome.IsGranted() {
		status = http.StatusForbidden
	}
	h.logger.DebugContext(ctx, "callback answered",
		"request_id", requestcontext.RequestID(ctx),
		"outcome", res.Outcome.String(),
		"status", status,
	)
	httputil.WriteText(w, status, res.Message())
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteText(w, http.StatusOK, "ok")
}

func writeFailure(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		httputil.WriteText(w, http.StatusInternalServerError, service.MessageInternal)
		return
	}
	httputil.WriteText(w, dErrors.ToHTTPStatus(de.Code), de.Message)
}
