package api

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/middleware"
	"github.com/exohunter/promoserve/internal/models"
	"github.com/exohunter/promoserve/internal/token"
)

// ImpressionHandler handles GET /impression pixel requests.
func (s *Server) ImpressionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ImpressionHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/impression"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "impression"
	const method = "GET"

	tok := r.URL.Query().Get("t")
	if tok == "" {
		logger.Warn("missing token")
		s.Metrics.IncrementImpressions("401")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	payload, err := token.Verify(tok, s.TokenSecret, s.TokenTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid token")
		logger.Warn("token verify", zap.Error(err))
		s.Metrics.IncrementImpressions("401")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	span.SetAttributes(
		attribute.String("request_id", payload.RequestID),
		attribute.String("ad_id", payload.AdID),
		attribute.String("location", payload.Location),
	)

	if s.Limiter != nil && !s.Limiter.Allow(payload.AdID) {
		logger.Warn("impression rate limited", zap.String("ad_id", payload.AdID))
		s.Metrics.IncrementImpressions("429")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if ad := s.AdStore.GetAd(payload.AdID); ad == nil {
		logger.Warn("unknown ad", zap.String("ad_id", payload.AdID))
		s.Metrics.IncrementImpressions("404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "unknown ad", http.StatusNotFound)
		return
	}

	s.Engine.IncrementAnalytics(ctx, payload.AdID, models.FieldImpressions)

	if s.Dispatcher != nil {
		s.Dispatcher.Track(ctx, "promo_impression", s.eventProps(r, map[string]any{
			"request_id": payload.RequestID,
			"ad_id":      payload.AdID,
			"location":   payload.Location,
			"user_id":    payload.UserID,
		}))
	}

	s.Metrics.IncrementImpressions("200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	s.sendPixelResponse(w)
}
