// Package admin serves the moderator review API over verification records of
// the configured community.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"guildgate/internal/verification/models"
	dErrors "guildgate/pkg/domain-errors"
	"guildgate/pkg/platform/httputil"
	adminmw "guildgate/pkg/platform/middleware/admin"
	"guildgate/pkg/platform/sentinel"
	"guildgate/pkg/requestcontext"
)

// Store is the read side of the verification store.
type Store interface {
	Get(ctx context.Context, communityID, subjectID string) (*models.Record, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Record, error)
}

type Handler struct {
	store       Store
	communityID string
	validator   adminmw.TokenValidator
	logger      *slog.Logger
}

func New(store Store, communityID string, validator adminmw.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		store:       store,
		communityID: communityID,
		validator:   validator,
		logger:      logger,
	}
}

// Register mounts the bearer-protected admin routes under /admin.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(h.validator, h.logger))
		r.Get("/verifications", h.HandleList)
		r.Get("/verifications/{subjectID}", h.HandleGet)
	})
}

// HandleList handles GET /admin/verifications?verified=&limit=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := models.ListFilter{CommunityID: h.communityID}

	q := r.URL.Query()
	if raw := q.Get("verified"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "verified must be true or false"))
			return
		}
		filter.Verified = &v
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	recs, err := h.store.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list verifications",
			"request_id", requestcontext.RequestID(ctx),
			"admin", requestcontext.AdminSubject(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "store unavailable"))
		return
	}

	h.logger.InfoContext(ctx, "verifications listed",
		"request_id", requestcontext.RequestID(ctx),
		"admin", requestcontext.AdminSubject(ctx),
		"count", len(recs),
	)
	httputil.WriteJSON(w, http.StatusOK, FromRecords(h.communityID, recs))
}

// HandleGet handles GET /admin/verifications/{subjectID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "subjectID")

	rec, err := h.store.Get(ctx, h.communityID, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "verification not found"))
			return
		}
		h.logger.ErrorContext(ctx, "failed to get verification",
			"request_id", requestcontext.RequestID(ctx),
			"admin", requestcontext.AdminSubject(ctx),
			"subject_id", subjectID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "store unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(rec))
}
