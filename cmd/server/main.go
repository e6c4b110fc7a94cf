package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/api"
	"github.com/exohunter/promoserve/internal/config"
	"github.com/exohunter/promoserve/internal/db"
	"github.com/exohunter/promoserve/internal/eligibility"
	"github.com/exohunter/promoserve/internal/fanout"
	"github.com/exohunter/promoserve/internal/geoip"
	"github.com/exohunter/promoserve/internal/identity"
	"github.com/exohunter/promoserve/internal/middleware"
	"github.com/exohunter/promoserve/internal/models"
	"github.com/exohunter/promoserve/internal/observability"
	"github.com/exohunter/promoserve/internal/ratelimit"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	adStore := models.NewInMemoryAdStore()

	ads, err := pg.LoadAds(ctx)
	if err != nil {
		return fmt.Errorf("load ads: %w", err)
	}
	if err := adStore.ReloadAll(ads); err != nil {
		return fmt.Errorf("populate ad store: %w", err)
	}

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	var geoSvc *geoip.Resolver
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Open(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	// Event fan-out: every enabled destination receives every event.
	registry := fanout.NewRegistry(logger,
		fanout.NewLogDestination(logger),
		fanout.NewMetricsDestination(metricsRegistry),
		fanout.NewClickHouseDestination(cfg.ClickHouseDSN, logger),
		fanout.NewWebhookDestination(cfg.WebhookURL, cfg.WebhookTimeout, cfg.WebhookMaxRetries, logger),
	)
	registry.Init(ctx)
	defer registry.Close()

	dispatcher := fanout.NewDispatcher(registry, logger, metricsRegistry, nil, cfg.Environment)

	engine := eligibility.New(adStore, pg, store, logger, metricsRegistry)

	limiter := ratelimit.NewAdLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)

	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(logger))

	srvDeps := api.NewServer(logger, store, pg, engine, dispatcher, geoSvc, identity.NewHeaderProvider(""), limiter, []byte(cfg.TokenSecret), cfg.TokenTTL, adStore, metricsRegistry, cfg)
	r.HandleFunc("/ads", srvDeps.GetAdsHandler).Methods("POST")
	r.HandleFunc("/impression", srvDeps.ImpressionHandler).Methods("GET")
	r.HandleFunc("/click", srvDeps.ClickHandler).Methods("GET")
	r.HandleFunc("/dismiss", srvDeps.DismissHandler).Methods("POST")
	r.HandleFunc("/seen", srvDeps.SeenHandler).Methods("POST")
	r.HandleFunc("/track", srvDeps.TrackHandler).Methods("POST")
	r.HandleFunc("/errors", srvDeps.ErrorsHandler).Methods("POST")
	r.HandleFunc("/health", srvDeps.HealthHandler).Methods("GET")
	r.HandleFunc("/reload", srvDeps.ReloadHandler).Methods("POST")

	// CRUD routes for admin UI
	crud := r.PathPrefix("/api").Subrouter()
	crud.HandleFunc("/ads", srvDeps.ListAds).Methods("GET")
	crud.HandleFunc("/ads", srvDeps.CreateAd).Methods("POST")
	crud.HandleFunc("/ads/{id}", srvDeps.GetAdByID).Methods("GET")
	crud.HandleFunc("/ads/{id}", srvDeps.UpdateAd).Methods("PUT")
	crud.HandleFunc("/ads/{id}", srvDeps.DeleteAd).Methods("DELETE")
	crud.HandleFunc("/ads/{id}/stats", srvDeps.AdStatsHandler).Methods("GET")
	crud.HandleFunc("/ratelimit/stats", srvDeps.RateLimitStatsHandler).Methods("GET")

	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port

	var handler http.Handler = r
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(r, "promoserve")
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("promo server running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if cfg.ReloadInterval > 0 {
		ticker := time.NewTicker(cfg.ReloadInterval)
		go func() {
			for {
				select {
				case <-ticker.C:
					if err := srvDeps.Reload(ctx); err != nil {
						logger.Error("auto reload", zap.Error(err))
					}
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
