package api

import (
	"context"
	"net/http"
)

// HealthHandler reports liveness. A halted engine answers 503 so an
// orchestrator restarts the process instead of letting it idle.
func (s *Server) HealthHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.stats != nil {
			if st := s.stats.Stats(r.Context()); st.Halted {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "halted"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
