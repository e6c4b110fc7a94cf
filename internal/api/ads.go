package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/deviceinfo"
	"github.com/exohunter/promoserve/internal/eligibility"
	"github.com/exohunter/promoserve/internal/geoip"
	"github.com/exohunter/promoserve/internal/middleware"
	"github.com/exohunter/promoserve/internal/models"
	"github.com/exohunter/promoserve/internal/token"
)

// AdsRequest is the body of POST /ads.
type AdsRequest struct {
	Location   string `json:"location"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// AdsResponse is the body of a successful POST /ads.
type AdsResponse struct {
	RequestID string              `json:"request_id"`
	Ads       []models.AdWithState `json:"ads"`
}

// decodeAdsRequest reads and unmarshals an ads request body.
func decodeAdsRequest(r *http.Request) (*AdsRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	defer func() {
		_ = r.Body.Close()
	}()

	var req AdsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return &req, nil
}

// GetAdsHandler handles POST /ads eligibility requests.
func (s *Server) GetAdsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetAdsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ads"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "ads"
	const method = "POST"

	req, err := decodeAdsRequest(r)
	if err != nil {
		logger.Error("decode request", zap.Error(err), zap.String("event_type", "ads_request"))
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if req.Location == "" {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "location required", http.StatusBadRequest)
		return
	}

	device := deviceinfo.FromRequest(r)
	platform := req.Platform
	if platform == "" {
		platform = device.Platform
	}
	appVersion := req.AppVersion
	if appVersion == "" {
		appVersion = device.AppVersion
	}

	userID := s.Identity.CurrentUserID(r)
	span.SetAttributes(
		attribute.String("location", req.Location),
		attribute.String("platform", platform),
		attribute.Bool("anonymous", userID == ""),
	)

	ads, err := s.Engine.GetAdsWithUserState(ctx, eligibility.Query{
		UserID:     userID,
		Location:   req.Location,
		Platform:   platform,
		AppVersion: appVersion,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "eligibility failed")
		logger.Error("eligibility", zap.Error(err), zap.String("location", req.Location))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "eligibility unavailable", http.StatusInternalServerError)
		return
	}

	requestID := uuid.NewString()

	// Mint signed pixel URLs for every showable ad so tracking cannot be
	// spoofed with bare ad IDs.
	shown := 0
	for i := range ads {
		if !ads[i].ShouldShow {
			continue
		}
		shown++
		tok, terr := token.Generate(requestID, ads[i].ID, userID, req.Location, s.TokenSecret)
		if terr != nil {
			logger.Error("mint pixel token", zap.Error(terr), zap.String("ad_id", ads[i].ID))
			continue
		}
		ads[i].ImpressionURL = "/impression?t=" + tok
		ads[i].ClickURL = "/click?t=" + tok
	}

	if s.Dispatcher != nil {
		s.Dispatcher.Track(ctx, "promos_served", s.eventProps(r, map[string]any{
			"request_id": requestID,
			"location":   req.Location,
			"platform":   platform,
			"shown":      shown,
			"candidates": len(ads),
		}))
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, http.StatusOK, AdsResponse{RequestID: requestID, Ads: ads})
}

// eventProps adds request-derived geo fields to an event property bag.
func (s *Server) eventProps(r *http.Request, props map[string]any) map[string]any {
	if s.GeoIP != nil {
		ip := geoip.ClientIP(r)
		if country := s.GeoIP.Country(ip); country != "" {
			props["country"] = country
		}
		if region := s.GeoIP.Region(ip); region != "" {
			props["region"] = region
		}
	}
	return props
}
