package api

import (
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/middleware"
	"github.com/exohunter/promoserve/internal/models"
	"github.com/exohunter/promoserve/internal/token"
)

// ClickHandler handles GET /click pixel requests and redirects to the ad's
// call-to-action URL when one is configured.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ClickHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/click"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "click"
	const method = "GET"

	tok := r.URL.Query().Get("t")
	if tok == "" {
		logger.Warn("missing token")
		s.Metrics.IncrementRequests(endpoint, method, "401")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	payload, err := token.Verify(tok, s.TokenSecret, s.TokenTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid token")
		logger.Warn("token verify", zap.Error(err))
		s.Metrics.IncrementRequests(endpoint, method, "401")
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
		logger.Warn("click rate limited", zap.String("ad_id", payload.AdID))
		s.Metrics.IncrementRequests(endpoint, method, "429")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	ad := s.AdStore.GetAd(payload.AdID)
	if ad == nil {
		logger.Warn("unknown ad", zap.String("ad_id", payload.AdID))
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "unknown ad", http.StatusNotFound)
		return
	}

	s.Engine.IncrementAnalytics(ctx, payload.AdID, models.FieldClicks)

	if s.Dispatcher != nil {
		s.Dispatcher.Track(ctx, "promo_click", s.eventProps(r, map[string]any{
			"request_id": payload.RequestID,
			"ad_id":      payload.AdID,
			"location":   payload.Location,
			"user_id":    payload.UserID,
		}))
	}

	// Redirect to the CTA URL only over http(s); anything else degrades to
	// the tracking pixel.
	if ad.CTAURL != "" {
		parsed, perr := url.Parse(ad.CTAURL)
		if perr != nil {
			logger.Error("invalid cta url", zap.String("url", ad.CTAURL), zap.Error(perr))
		} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
			logger.Warn("unsafe cta url scheme", zap.String("url", ad.CTAURL), zap.String("scheme", parsed.Scheme))
		} else {
			s.Metrics.IncrementRequests(endpoint, method, "302")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Redirect(w, r, ad.CTAURL, http.StatusFound)
			return
		}
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	s.sendPixelResponse(w)
}
