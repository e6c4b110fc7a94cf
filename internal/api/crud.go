package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/models"
)

const adUpdateChannel = "promo-ad-updates"

type updateMessage struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// notifyUpdate publishes an inventory change so sibling instances can reload.
func (s *Server) notifyUpdate(action, id string) {
	if s.Store == nil || s.Store.Client == nil {
		return
	}
	payload, err := json.Marshal(updateMessage{Action: action, ID: id})
	if err != nil {
		s.Logger.Error("marshal update message", zap.Error(err))
		return
	}
	if err := s.Store.Client.Publish(context.Background(), adUpdateChannel, payload).Err(); err != nil {
		s.Logger.Error("publish update message", zap.Error(err))
	}
}

// ===== Advertisements =====

func (s *Server) ListAds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.AdStore.GetAllAds())
}

func (s *Server) GetAdByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ad := s.AdStore.GetAd(id)
	if ad == nil {
		http.Error(w, "ad not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ad)
}

func (s *Server) CreateAd(w http.ResponseWriter, r *http.Request) {
	var ad models.Advertisement
	if err := json.NewDecoder(r.Body).Decode(&ad); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if ad.Title == "" || len(ad.DisplayLocations) == 0 {
		http.Error(w, "title and display_locations required", http.StatusBadRequest)
		return
	}
	if ad.Priority < models.MinPriority || ad.Priority > models.MaxPriority {
		http.Error(w, "priority out of range", http.StatusBadRequest)
		return
	}

	// Postgres first so the generated ID and timestamps flow into the
	// in-memory snapshot.
	if s.PG != nil {
		if err := s.PG.InsertAd(r.Context(), &ad); err != nil {
			s.Logger.Error("insert ad to postgres", zap.Error(err))
			http.Error(w, "failed to persist ad", http.StatusInternalServerError)
			return
		}
	}

	if err := s.AdStore.InsertAd(ad); err != nil {
		s.Logger.Error("insert ad to data store", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.notifyUpdate("create", ad.ID)
	writeJSON(w, http.StatusCreated, ad)
}

func (s *Server) UpdateAd(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var ad models.Advertisement
	if err := json.NewDecoder(r.Body).Decode(&ad); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ad.ID = id

	if err := s.AdStore.UpdateAd(ad); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "ad not found", http.StatusNotFound)
			return
		}
		s.Logger.Error("update ad in data store", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.PG != nil {
		if err := s.PG.UpdateAd(r.Context(), &ad); err != nil {
			s.Logger.Error("update ad in postgres", zap.Error(err))
			// data store is the source of truth for serving
		}
	}

	s.notifyUpdate("update", id)
	writeJSON(w, http.StatusOK, ad)
}

func (s *Server) DeleteAd(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.AdStore.DeleteAd(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "ad not found", http.StatusNotFound)
			return
		}
		s.Logger.Error("delete ad from data store", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.PG != nil {
		if err := s.PG.DeleteAd(r.Context(), id); err != nil {
			s.Logger.Error("delete ad from postgres", zap.Error(err))
		}
	}

	s.notifyUpdate("delete", id)
	w.WriteHeader(http.StatusNoContent)
}

// AdStats combines lifetime counters with today's Redis tallies.
type AdStats struct {
	AdID             string `json:"ad_id"`
	Impressions      int64  `json:"impressions"`
	Clicks           int64  `json:"clicks"`
	Dismissals       int64  `json:"dismissals"`
	TodayImpressions int64  `json:"today_impressions"`
	TodayClicks      int64  `json:"today_clicks"`
	TodayDismissals  int64  `json:"today_dismissals"`
}

func (s *Server) AdStatsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ad := s.AdStore.GetAd(id)
	if ad == nil {
		http.Error(w, "ad not found", http.StatusNotFound)
		return
	}

	stats := AdStats{
		AdID:        ad.ID,
		Impressions: ad.Impressions,
		Clicks:      ad.Clicks,
		Dismissals:  ad.Dismissals,
	}
	if s.Store != nil && s.Store.Client != nil {
		if daily, err := s.Store.DailyCounts([]string{ad.ID}); err == nil {
			counts := daily[ad.ID]
			stats.TodayImpressions = counts[0]
			stats.TodayClicks = counts[1]
			stats.TodayDismissals = counts[2]
		} else {
			s.Logger.Warn("daily counts", zap.Error(err), zap.String("ad_id", ad.ID))
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// RateLimitStatsHandler exposes per-ad pixel rate limiting counters.
func (s *Server) RateLimitStatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.Limiter == nil {
		http.Error(w, "rate limiting disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Limiter.GetStats())
}
