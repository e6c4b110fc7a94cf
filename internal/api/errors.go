package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/exohunter/promoserve/internal/deviceinfo"
	"github.com/exohunter/promoserve/internal/fanout"
	"github.com/exohunter/promoserve/internal/middleware"

	"go.uber.org/zap"
)

// ErrorReportRequest is the body of POST /errors.
type ErrorReportRequest struct {
	Message    string            `json:"message"`
	Severity   string            `json:"severity,omitempty"`
	Category   string            `json:"category,omitempty"`
	HTTPStatus int               `json:"http_status,omitempty"`
	Context    fanout.Properties `json:"context,omitempty"`
}

// ErrorsHandler handles POST /errors: clients report failures here and the
// report is fanned out to the monitoring destinations.
func (s *Server) ErrorsHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "errors"
	const method = "POST"

	if s.Dispatcher == nil {
		s.Metrics.IncrementRequests(endpoint, method, "503")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "fanout unavailable", http.StatusServiceUnavailable)
		return
	}

	var req ErrorReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	props := req.Context
	if props == nil {
		props = fanout.Properties{}
	}
	if userID := s.Identity.CurrentUserID(r); userID != "" {
		props["user_id"] = userID
	}
	s.eventProps(r, props)

	outcomes := s.Dispatcher.ReportError(r.Context(), errors.New(req.Message), fanout.Report{
		Severity:   req.Severity,
		Category:   req.Category,
		HTTPStatus: req.HTTPStatus,
		Context:    props,
		Device:     deviceinfo.NewRequestProvider(r),
	})

	resp := outcomeResults(outcomes)
	if resp.Failed > 0 {
		logger.Warn("partial error report delivery",
			zap.Int("failed", resp.Failed),
			zap.Int("delivered", resp.Delivered))
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}
