package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/eligibility"
	"github.com/exohunter/promoserve/internal/middleware"
	"github.com/exohunter/promoserve/internal/models"
)

// DismissRequest is the body of POST /dismiss.
type DismissRequest struct {
	AdID string `json:"ad_id"`
}

// DismissHandler handles POST /dismiss: it records the dismissal with the
// ad's configured cooldown and bumps the dismissal counters.
func (s *Server) DismissHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "dismiss"
	const method = "POST"

	var req DismissRequest
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

	ad := s.AdStore.GetAd(req.AdID)
	if ad == nil {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "unknown ad", http.StatusNotFound)
		return
	}
	if !ad.Dismissible {
		s.Metrics.IncrementRequests(endpoint, method, "403")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "ad is not dismissible", http.StatusForbidden)
		return
	}

	if err := s.Engine.DismissAd(r.Context(), userID, req.AdID, ad.DismissCooldownDays); err != nil {
		if errors.Is(err, eligibility.ErrMissingUser) {
			s.Metrics.IncrementRequests(endpoint, method, "401")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "user required", http.StatusUnauthorized)
			return
		}
		logger.Error("dismiss ad", zap.Error(err), zap.String("ad_id", req.AdID))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "dismiss failed", http.StatusInternalServerError)
		return
	}

	s.Engine.IncrementAnalytics(r.Context(), req.AdID, models.FieldDismissals)

	if s.Dispatcher != nil {
		s.Dispatcher.Track(r.Context(), "promo_dismissed", s.eventProps(r, map[string]any{
			"ad_id":         req.AdID,
			"user_id":       userID,
			"cooldown_days": ad.DismissCooldownDays,
		}))
	}

	s.Metrics.IncrementRequests(endpoint, method, "204")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}
