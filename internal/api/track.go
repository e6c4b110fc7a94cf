package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/exohunter/promoserve/internal/fanout"
	"github.com/exohunter/promoserve/internal/middleware"

	"go.uber.org/zap"
)

// TrackRequest is the body of POST /track.
type TrackRequest struct {
	Event      string            `json:"event,omitempty"`
	Page       string            `json:"page,omitempty"`
	Properties fanout.Properties `json:"properties,omitempty"`
	Traits     fanout.Properties `json:"traits,omitempty"`
	Action     string            `json:"action,omitempty"`
}

// TrackResponse reports per-destination delivery results.
type TrackResponse struct {
	Delivered int             `json:"delivered"`
	Failed    int             `json:"failed"`
	Outcomes  []OutcomeResult `json:"outcomes"`
}

// OutcomeResult is the JSON shape of one delivery outcome.
type OutcomeResult struct {
	Destination string `json:"destination"`
	Error       string `json:"error,omitempty"`
}

func outcomeResults(outcomes []fanout.Outcome) TrackResponse {
	resp := TrackResponse{Outcomes: make([]OutcomeResult, 0, len(outcomes))}
	for _, o := range outcomes {
		res := OutcomeResult{Destination: o.Destination}
		if o.Err != nil {
			res.Error = o.Err.Error()
			resp.Failed++
		} else {
			resp.Delivered++
		}
		resp.Outcomes = append(resp.Outcomes, res)
	}
	return resp
}

// TrackHandler handles POST /track: it fans a client-side analytics event out
// to every enabled destination. The action field selects the operation:
// "track" (default), "page", "identify", "set_user_properties" or "reset".
func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "track"
	const method = "POST"

	if s.Dispatcher == nil {
		s.Metrics.IncrementRequests(endpoint, method, "503")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "fanout unavailable", http.StatusServiceUnavailable)
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	userID := s.Identity.CurrentUserID(r)
	ctx := r.Context()

	var outcomes []fanout.Outcome
	switch req.Action {
	case "", "track":
		if req.Event == "" {
			s.Metrics.IncrementRequests(endpoint, method, "400")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "event required", http.StatusBadRequest)
			return
		}
		outcomes = s.Dispatcher.Track(ctx, req.Event, req.Properties)
	case "page":
		if req.Page == "" {
			s.Metrics.IncrementRequests(endpoint, method, "400")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "page required", http.StatusBadRequest)
			return
		}
		outcomes = s.Dispatcher.Page(ctx, req.Page, req.Properties)
	case "identify":
		if userID == "" {
			s.Metrics.IncrementRequests(endpoint, method, "401")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "user required", http.StatusUnauthorized)
			return
		}
		outcomes = s.Dispatcher.Identify(ctx, userID, req.Traits)
	case "set_user_properties":
		outcomes = s.Dispatcher.SetUserProperties(ctx, req.Properties)
	case "reset":
		outcomes = s.Dispatcher.Reset(ctx)
	default:
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	resp := outcomeResults(outcomes)
	if resp.Failed > 0 {
		logger.Warn("partial fanout delivery",
			zap.String("action", req.Action),
			zap.Int("failed", resp.Failed),
			zap.Int("delivered", resp.Delivered))
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}
