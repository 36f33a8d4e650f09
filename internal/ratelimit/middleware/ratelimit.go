// Package middleware enforces per-address request budgets in front of the
// verification routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"guildgate/internal/ratelimit/models"
	"guildgate/pkg/platform/httputil"
	"guildgate/pkg/platform/middleware/metadata"
	"guildgate/pkg/requestcontext"
)

// MessageTooManyRequests is the body of a 429.
const MessageTooManyRequests = "Too many attempts from your network. Please wait a moment and try again."

// Limiter is the subset of the rate limit service the middleware needs.
type Limiter interface {
	CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error)
}

type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
}

func New(limiter Limiter, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{limiter: limiter, logger: logger}
}

// RateLimit limits requests by client address for class. When the limiter
// itself fails the request is let through.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}

			result, err := m.limiter.CheckIP(ctx, ip, class)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
					"error", err,
					"class", class,
				)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteText(w, http.StatusTooManyRequests, MessageTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
