// Package api exposes the engine's observability endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devscout/streamengine/internal/app"
	"github.com/devscout/streamengine/pkg/logger"
	"github.com/devscout/streamengine/pkg/metrics"
)

// StatsProvider supplies a point-in-time view of engine state.
type StatsProvider interface {
	Stats(ctx context.Context) app.Stats
}

// Server bundles the HTTP handlers for the observability surface.
type Server struct {
	stats StatsProvider
}

// Option configures a Server.
type Option func(*Server)

// WithStatsProvider sets the source of /stats data.
func WithStatsProvider(p StatsProvider) Option {
	return func(s *Server) {
		s.stats = p
	}
}

// NewServer builds a Server with the given options.
func NewServer(opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all handlers to the given mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	log := logger.Get().Named("api")

	mux.HandleFunc("/healthz", MetricsMiddleware(s.HealthHandler(ctx), "/healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.StatsHandler(ctx), "/stats"))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	log.Info(ctx, "http handlers registered",
		logger.String("endpoints", "/healthz /stats /metrics"))
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response is already committed
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
