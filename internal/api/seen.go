package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/deviceinfo"
	"github.com/exohunter/promoserve/internal/middleware"
)

// SeenRequest is the body of POST /seen.
type SeenRequest struct {
	AdID       string `json:"ad_id"`
	AppVersion string `json:"app_version,omitempty"`
}

// SeenHandler handles POST /seen: it records that a one-time promo has been
// shown to the user so it is suppressed on later requests.
func (s *Server) SeenHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "seen"
	const method = "POST"

	var req SeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AdID == "" {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "ad_id required", http.StatusBadRequest)
		return
	}

	userID := s.Identity.CurrentUserID(r)
	if userID == "" {
		s.Metrics.IncrementRequests(endpoint, method, "401")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "user required", http.StatusUnauthorized)
		return
	}

	if s.AdStore.GetAd(req.AdID) == nil {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "unknown ad", http.StatusNotFound)
		return
	}

	version := req.AppVersion
	if version == "" {
		version = deviceinfo.FromRequest(r).AppVersion
	}

	if err := s.Engine.MarkPromoSeen(r.Context(), userID, req.AdID, version); err != nil {
		logger.Error("mark promo seen", zap.Error(err), zap.String("ad_id", req.AdID))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "seen failed", http.StatusInternalServerError)
		return
	}

	if s.Dispatcher != nil {
		s.Dispatcher.Track(r.Context(), "promo_seen", s.eventProps(r, map[string]any{
			"ad_id":       req.AdID,
			"user_id":     userID,
			"app_version": version,
		}))
	}

	s.Metrics.IncrementRequests(endpoint, method, "204")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}
