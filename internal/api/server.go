package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/config"
	"github.com/exohunter/promoserve/internal/db"
	"github.com/exohunter/promoserve/internal/eligibility"
	"github.com/exohunter/promoserve/internal/fanout"
	"github.com/exohunter/promoserve/internal/geoip"
	"github.com/exohunter/promoserve/internal/identity"
	"github.com/exohunter/promoserve/internal/models"
	"github.com/exohunter/promoserve/internal/observability"
	"github.com/exohunter/promoserve/internal/ratelimit"
)

var tracer = otel.Tracer("promoserve")

// pixelGIF is the smallest valid transparent GIF, served by the tracking
// pixel endpoints.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Store       *db.RedisStore
	PG          *db.Postgres
	Engine      *eligibility.Engine
	Dispatcher  *fanout.Dispatcher
	GeoIP       *geoip.Resolver
	Identity    identity.Provider
	Limiter     *ratelimit.AdLimiter
	TokenSecret []byte
	TokenTTL    time.Duration
	AdStore     models.AdStore
	Metrics     observability.MetricsRegistry
	Config      config.Config
	reloadMu    sync.Mutex
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, store *db.RedisStore, pg *db.Postgres, engine *eligibility.Engine, dispatcher *fanout.Dispatcher, geo *geoip.Resolver, ident identity.Provider, limiter *ratelimit.AdLimiter, secret []byte, ttl time.Duration, adStore models.AdStore, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if ident == nil {
		ident = identity.NewHeaderProvider("")
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:      logger,
		Store:       store,
		PG:          pg,
		Engine:      engine,
		Dispatcher:  dispatcher,
		GeoIP:       geo,
		Identity:    ident,
		Limiter:     limiter,
		TokenSecret: secret,
		TokenTTL:    ttl,
		AdStore:     adStore,
		Metrics:     metrics,
		Config:      cfg,
	}
}

// Reload refreshes the in-memory inventory snapshot from Postgres.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}

	ads, err := s.PG.LoadAds(ctx)
	if err != nil {
		return fmt.Errorf("load ads: %w", err)
	}
	if err := s.AdStore.ReloadAll(ads); err != nil {
		return fmt.Errorf("reload ad data: %w", err)
	}
	return nil
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendPixelResponse sends a 1x1 tracking pixel response.
func (s *Server) sendPixelResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}
