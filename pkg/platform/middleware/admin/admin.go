package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "guildgate/pkg/domain-errors"
	"guildgate/pkg/platform/httputil"
	"guildgate/pkg/requestcontext"
)

// TokenValidator checks an admin bearer token and returns its subject.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (subject string, err error)
}

// RequireAdminToken rejects requests without a valid "Authorization: Bearer"
// admin token and stores the token subject in the context.
func RequireAdminToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			subject, err := validator.Validate(ctx, strings.TrimSpace(raw))
			if err != nil {
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithAdminSubject(ctx, subject)))
		})
	}
}
