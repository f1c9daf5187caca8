package api

import (
	"context"
	"net/http"
)

// StatsHandler returns engine counters: open windows, per-partition
// offsets, watermarks and checkpoint state.
func (s *Server) StatsHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.stats == nil {
			writeError(w, http.StatusServiceUnavailable, "stats unavailable")
			return
		}
		writeJSON(w, http.StatusOK, s.stats.Stats(r.Context()))
	}
}
