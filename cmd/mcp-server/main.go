package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/db"
	"github.com/exohunter/promoserve/internal/models"
)

// ListPromosInput filters the promo inventory listing.
type ListPromosInput struct {
	Location   string `json:"location,omitempty"`
	Platform   string `json:"platform,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
}

// PromoSummary is one inventory row in a list_promos result.
type PromoSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Locations   []string `json:"locations"`
	Platforms   []string `json:"platforms,omitempty"`
	Priority    int      `json:"priority"`
	Active      bool     `json:"active"`
	Dismissible bool     `json:"dismissible"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
}

type ListPromosOutput struct {
	Promos []PromoSummary `json:"promos"`
}

// PromoStatsInput selects one promo for stats.
type PromoStatsInput struct {
	AdID string `json:"ad_id"`
}

// PromoStatsOutput combines lifetime counters with today's Redis tallies.
type PromoStatsOutput struct {
	AdID             string `json:"ad_id"`
	Title            string `json:"title"`
	Impressions      int64  `json:"impressions"`
	Clicks           int64  `json:"clicks"`
	Dismissals       int64  `json:"dismissals"`
	TodayImpressions int64  `json:"today_impressions"`
	TodayClicks      int64  `json:"today_clicks"`
	TodayDismissals  int64  `json:"today_dismissals"`
}

// promoServer holds dependencies for the MCP tools.
type promoServer struct {
	pg      *db.Postgres
	adStore models.AdStore
	store   *db.RedisStore
	logger  *zap.Logger
}

// ListPromos implements the list_promos tool.
func (s *promoServer) ListPromos(ctx context.Context, req *mcp.CallToolRequest, input ListPromosInput) (*mcp.CallToolResult, ListPromosOutput, error) {
	ads := s.adStore.GetAllAds()

	promos := make([]PromoSummary, 0, len(ads))
	for _, ad := range ads {
		if input.ActiveOnly && !ad.Active {
			continue
		}
		if input.Location != "" && !ad.HasLocation(input.Location) {
			continue
		}
		if input.Platform != "" && !ad.HasPlatform(input.Platform) {
			continue
		}

		summary := PromoSummary{
			ID:          ad.ID,
			Title:       ad.Title,
			Type:        ad.Type,
			Locations:   ad.DisplayLocations,
			Platforms:   ad.TargetPlatforms,
			Priority:    ad.Priority,
			Active:      ad.Active,
			Dismissible: ad.Dismissible,
		}
		if !ad.StartDate.IsZero() {
			summary.StartDate = ad.StartDate.Format(time.RFC3339)
		}
		if !ad.EndDate.IsZero() {
			summary.EndDate = ad.EndDate.Format(time.RFC3339)
		}
		promos = append(promos, summary)
	}

	return nil, ListPromosOutput{Promos: promos}, nil
}

// PromoStats implements the promo_stats tool.
func (s *promoServer) PromoStats(ctx context.Context, req *mcp.CallToolRequest, input PromoStatsInput) (*mcp.CallToolResult, PromoStatsOutput, error) {
	ad := s.adStore.GetAd(input.AdID)
	if ad == nil {
		return nil, PromoStatsOutput{}, fmt.Errorf("unknown ad: %s", input.AdID)
	}

	out := PromoStatsOutput{
		AdID:        ad.ID,
		Title:       ad.Title,
		Impressions: ad.Impressions,
		Clicks:      ad.Clicks,
		Dismissals:  ad.Dismissals,
	}

	if s.store != nil && s.store.Client != nil {
		if daily, err := s.store.DailyCounts([]string{ad.ID}); err == nil {
			counts := daily[ad.ID]
			out.TodayImpressions = counts[0]
			out.TodayClicks = counts[1]
			out.TodayDismissals = counts[2]
		} else {
			s.logger.Warn("daily counts", zap.Error(err), zap.String("ad_id", ad.ID))
		}
	}

	return nil, out, nil
}

func main() {
	// Use stderr for all log output so stdout stays clean for the MCP
	// stdio transport.
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("promoserve-mcp").With(zap.String("service", "promoserve-mcp"))

	logger.Info("starting promoserve MCP server")

	postgresDSN := os.Getenv("POSTGRES_DSN")
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN environment variable is required")
	}

	pg, err := db.InitPostgres(postgresDSN, 10, 5, 30*time.Minute, time.Minute)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pg.Close()

	adStore := models.NewInMemoryAdStore()
	ads, err := pg.LoadAds(context.Background())
	if err != nil {
		logger.Fatal("load ads", zap.Error(err))
	}
	if err := adStore.ReloadAll(ads); err != nil {
		logger.Fatal("populate ad store", zap.Error(err))
	}
	logger.Info("loaded inventory", zap.Int("ads", len(ads)))

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	store, err := db.InitRedis(redisAddr)
	if err != nil {
		logger.Warn("redis unavailable, daily counters disabled", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	srv := &promoServer{pg: pg, adStore: adStore, store: store, logger: logger}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "promoserve",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_promos",
		Description: "List promotional ad inventory, optionally filtered by display location and platform",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"location": map[string]interface{}{
					"type":        "string",
					"description": "Display location to filter by (page_slider, modal_slider, one_time_modal, push_notification)",
				},
				"platform": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"web", "android", "ios"},
					"description": "Target platform to filter by",
				},
				"active_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Only return active promos",
				},
			},
		},
	}, srv.ListPromos)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "promo_stats",
		Description: "Get lifetime and today's impression, click and dismissal counts for one promo",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ad_id": map[string]interface{}{
					"type":        "string",
					"description": "Promo ad ID",
				},
			},
			"required": []string{"ad_id"},
		},
	}, srv.PromoStats)

	logger.Info("MCP server running via stdio")

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
