// Package eligibility decides which advertisements may be shown to a user at a
// display surface right now. It combines the shared inventory snapshot with
// per-user dismissal and seen-promo state and returns every candidate
// annotated with a ShouldShow verdict.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/db"
	"github.com/exohunter/promoserve/internal/models"
	"github.com/exohunter/promoserve/internal/observability"
)

// nowFn is swapped in tests for deterministic time.
var nowFn = time.Now

// StateStore is the per-user state collaborator. Implemented by *db.Postgres;
// tests supply fakes.
type StateStore interface {
	LoadUserState(ctx context.Context, userID string) (*models.UserState, error)
	UpsertDismissal(ctx context.Context, d models.Dismissal) error
	UpsertSeenPromo(ctx context.Context, s models.SeenPromo) error
	IncrementCounter(ctx context.Context, adID, field string) error
}

// Engine evaluates ad eligibility and records per-user ad state.
type Engine struct {
	ads     models.AdStore
	state   StateStore
	store   *db.RedisStore // optional; daily ops counters
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// New constructs an Engine. store may be nil when Redis is unavailable; daily
// counters are then skipped.
func New(ads models.AdStore, state StateStore, store *db.RedisStore, logger *zap.Logger, metrics observability.MetricsRegistry) *Engine {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Engine{ads: ads, state: state, store: store, logger: logger, metrics: metrics}
}

// Query identifies one eligibility request. UserID may be empty (anonymous
// users still see ads, minus dismissal history). Platform may be empty to skip
// platform filtering; AppVersion gates version-scoped one-time promos.
type Query struct {
	UserID     string
	Location   string
	Platform   string
	AppVersion string
}

// GetAdsWithUserState returns the ordered candidate list for a query, each ad
// annotated with ShouldShow. On collaborator failure it returns a nil list and
// the error; callers must treat that as "show nothing", never "show
// everything". The call performs one inventory read and, for identified users,
// one batched user-state read.
func (e *Engine) GetAdsWithUserState(ctx context.Context, q Query) ([]models.AdWithState, error) {
	if !models.ValidLocation(q.Location) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLocation, q.Location)
	}

	now := nowFn()
	candidates := FilterCandidates(e.ads.GetByLocation(q.Location), q.Location, q.Platform, now)
	SortByPriority(candidates)

	var state *models.UserState
	if q.UserID != "" {
		if e.state == nil {
			return nil, ErrNilStateStore
		}
		var err error
		state, err = e.state.LoadUserState(ctx, q.UserID)
		if err != nil {
			e.logger.Error("load user state", zap.Error(err), zap.String("user_id", q.UserID))
			return nil, fmt.Errorf("load user state: %w", err)
		}
	}

	annotated := Annotate(candidates, state, q.Location, q.AppVersion, now)

	shown := 0
	for _, ad := range annotated {
		if ad.ShouldShow {
			e.metrics.IncrementAdsServed(q.Location, "shown")
			shown++
		} else {
			e.metrics.IncrementAdsServed(q.Location, "hidden")
		}
	}
	if shown == 0 {
		e.metrics.IncrementNoFill(q.Location)
	}
	return annotated, nil
}

// DismissAd upserts the dismissal record for (userID, adID) with a cooldown of
// cooldownDays. The write is idempotent in effect: re-dismissal replaces the
// record and opens a fresh window. Dismissibility is the caller's concern; a
// non-dismissible ad must never surface a dismiss action in the first place.
func (e *Engine) DismissAd(ctx context.Context, userID, adID string, cooldownDays int) error {
	if userID == "" {
		return ErrMissingUser
	}
	if e.state == nil {
		return ErrNilStateStore
	}
	if cooldownDays < 0 {
		cooldownDays = 0
	}

	now := nowFn()
	d := models.Dismissal{
		UserID:         userID,
		AdID:           adID,
		DismissedAt:    now,
		ShowAgainAfter: now.AddDate(0, 0, cooldownDays),
	}
	if err := e.state.UpsertDismissal(ctx, d); err != nil {
		return fmt.Errorf("dismiss ad: %w", err)
	}
	return nil
}

// MarkPromoSeen upserts the seen record for (userID, adID). A non-empty
// version makes the record version-gated: it only suppresses the promo for
// requests made from that same app version.
func (e *Engine) MarkPromoSeen(ctx context.Context, userID, adID, version string) error {
	if userID == "" {
		return ErrMissingUser
	}
	if e.state == nil {
		return ErrNilStateStore
	}

	s := models.SeenPromo{
		UserID:     userID,
		AdID:       adID,
		SeenAt:     nowFn(),
		AppVersion: version,
	}
	if err := e.state.UpsertSeenPromo(ctx, s); err != nil {
		return fmt.Errorf("mark promo seen: %w", err)
	}
	return nil
}

// IncrementAnalytics bumps one of the ad's server-side counters via the
// store's atomic increment, plus the Redis daily counter when available.
// Failures are logged and swallowed: counting must never block the
// user-facing action that triggered it.
func (e *Engine) IncrementAnalytics(ctx context.Context, adID, field string) {
	if !models.ValidCounterField(field) {
		e.logger.Warn("unknown counter field", zap.String("field", field))
		return
	}
	if e.state != nil {
		if err := e.state.IncrementCounter(ctx, adID, field); err != nil {
			e.logger.Error("persist ad counter", zap.Error(err), zap.String("ad_id", adID), zap.String("field", field))
			e.metrics.IncrementCounterPersistErrors()
		}
	}
	if e.store != nil && e.store.Client != nil {
		if err := e.store.IncrementDailyCounter(adID, field); err != nil {
			e.logger.Error("redis daily counter", zap.Error(err), zap.String("ad_id", adID), zap.String("field", field))
		}
	}
}
