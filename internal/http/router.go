// Package httpapi assembles the public router from the feature handlers.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"guildgate/internal/platform/metrics"
	"guildgate/internal/platform/middleware"
	"guildgate/pkg/platform/httputil"
	"guildgate/pkg/platform/middleware/metadata"
	"guildgate/pkg/platform/middleware/request"
	"guildgate/pkg/platform/middleware/requesttime"
)

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Exposition is served at /metrics when set.
	Exposition http.Handler
	Features   []Registrar
}

// NewRouter wires the shared middleware chain in front of every feature.
// Request ID comes first so recovery and access logs can reference it.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(middleware.Recovery(logger, d.Metrics))
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.Latency(d.Metrics))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	for _, f := range d.Features {
		f.Register(r)
	}
	if d.Exposition != nil {
		r.Method(http.MethodGet, "/metrics", d.Exposition)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteText(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteText(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
