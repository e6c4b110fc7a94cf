package api

import (
	"net/http"
	"time"
)

// HealthHandler reports liveness plus the size of the loaded inventory
// snapshot, which makes an empty reload visible to probes.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ads":    len(s.AdStore.GetAllAds()),
	})

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
