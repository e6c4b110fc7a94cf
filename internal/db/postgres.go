package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist. Dismissal and
// seen records are keyed UNIQUE (user_id, ad_id) so writes are upserts and the
// latest record is a guarantee, not an artifact of query ordering.
const schemaSQL = `CREATE TABLE IF NOT EXISTS advertisements (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    bullet_points TEXT[] NOT NULL DEFAULT '{}',
    image_url TEXT NOT NULL DEFAULT '',
    cta_text TEXT NOT NULL DEFAULT '',
    cta_url TEXT NOT NULL DEFAULT '',
    variant TEXT NOT NULL DEFAULT 'standard',
    display_locations TEXT[] NOT NULL DEFAULT '{}',
    target_platforms TEXT[] NOT NULL DEFAULT '{}',
    start_date TIMESTAMPTZ NULL,
    end_date TIMESTAMPTZ NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    priority INT NOT NULL DEFAULT 50,
    dismissible BOOLEAN NOT NULL DEFAULT TRUE,
    dismiss_cooldown_days INT NOT NULL DEFAULT 0,
    impressions BIGINT NOT NULL DEFAULT 0,
    clicks BIGINT NOT NULL DEFAULT 0,
    dismissals BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS promo_dismissals (
    user_id TEXT NOT NULL,
    ad_id TEXT NOT NULL REFERENCES advertisements(id) ON DELETE CASCADE,
    dismissed_at TIMESTAMPTZ NOT NULL,
    show_again_after TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, ad_id)
);

CREATE TABLE IF NOT EXISTS promo_seen (
    user_id TEXT NOT NULL,
    ad_id TEXT NOT NULL REFERENCES advertisements(id) ON DELETE CASCADE,
    seen_at TIMESTAMPTZ NOT NULL,
    app_version TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (user_id, ad_id)
);

CREATE INDEX IF NOT EXISTS idx_advertisements_active ON advertisements (active) WHERE active = true;
CREATE INDEX IF NOT EXISTS idx_promo_dismissals_user ON promo_dismissals (user_id);
CREATE INDEX IF NOT EXISTS idx_promo_seen_user ON promo_seen (user_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const adColumns = `id, type, title, description, bullet_points, image_url, cta_text, cta_url, variant,
	display_locations, target_platforms, start_date, end_date, active, priority,
	dismissible, dismiss_cooldown_days, impressions, clicks, dismissals, created_at, updated_at`

func scanAd(rows *sql.Rows) (models.Advertisement, error) {
	var ad models.Advertisement
	var start, end sql.NullTime
	if err := rows.Scan(&ad.ID, &ad.Type, &ad.Title, &ad.Description, &ad.BulletPoints,
		&ad.ImageURL, &ad.CTAText, &ad.CTAURL, &ad.Variant,
		&ad.DisplayLocations, &ad.TargetPlatforms, &start, &end, &ad.Active, &ad.Priority,
		&ad.Dismissible, &ad.DismissCooldownDays, &ad.Impressions, &ad.Clicks, &ad.Dismissals,
		&ad.CreatedAt, &ad.UpdatedAt); err != nil {
		return models.Advertisement{}, fmt.Errorf("scan advertisement: %w", err)
	}
	if start.Valid {
		ad.StartDate = start.Time
	}
	if end.Valid {
		ad.EndDate = end.Time
	}
	return ad, nil
}

// LoadAds retrieves the full advertisement inventory. Active filtering happens
// in the eligibility layer so the admin surface can list everything.
func (p *Postgres) LoadAds(ctx context.Context) ([]models.Advertisement, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+adColumns+` FROM advertisements ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query advertisements: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ads []models.Advertisement
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

// InsertAd persists a new advertisement, generating an ID when absent.
func (p *Postgres) InsertAd(ctx context.Context, ad *models.Advertisement) error {
	if ad.ID == "" {
		ad.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ad.CreatedAt = now
	ad.UpdatedAt = now
	_, err := p.DB.ExecContext(ctx, `INSERT INTO advertisements
		(id, type, title, description, bullet_points, image_url, cta_text, cta_url, variant,
		 display_locations, target_platforms, start_date, end_date, active, priority,
		 dismissible, dismiss_cooldown_days, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		ad.ID, ad.Type, ad.Title, ad.Description, pq.Array([]string(ad.BulletPoints)),
		ad.ImageURL, ad.CTAText, ad.CTAURL, ad.Variant,
		pq.Array([]string(ad.DisplayLocations)), pq.Array([]string(ad.TargetPlatforms)),
		nullTime(ad.StartDate), nullTime(ad.EndDate), ad.Active, ad.Priority,
		ad.Dismissible, ad.DismissCooldownDays, ad.CreatedAt, ad.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert advertisement: %w", err)
	}
	return nil
}

// UpdateAd replaces the mutable fields of an advertisement and bumps updated_at.
func (p *Postgres) UpdateAd(ctx context.Context, ad *models.Advertisement) error {
	ad.UpdatedAt = time.Now().UTC()
	res, err := p.DB.ExecContext(ctx, `UPDATE advertisements SET
		type=$2, title=$3, description=$4, bullet_points=$5, image_url=$6, cta_text=$7,
		cta_url=$8, variant=$9, display_locations=$10, target_platforms=$11,
		start_date=$12, end_date=$13, active=$14, priority=$15, dismissible=$16,
		dismiss_cooldown_days=$17, updated_at=$18
		WHERE id=$1`,
		ad.ID, ad.Type, ad.Title, ad.Description, pq.Array([]string(ad.BulletPoints)),
		ad.ImageURL, ad.CTAText, ad.CTAURL, ad.Variant,
		pq.Array([]string(ad.DisplayLocations)), pq.Array([]string(ad.TargetPlatforms)),
		nullTime(ad.StartDate), nullTime(ad.EndDate), ad.Active, ad.Priority,
		ad.Dismissible, ad.DismissCooldownDays, ad.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update advertisement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteAd removes an advertisement and, via cascade, its per-user state.
func (p *Postgres) DeleteAd(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM advertisements WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete advertisement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpsertDismissal writes the dismissal record for (user, ad), replacing any
// previous one. Latest write wins.
func (p *Postgres) UpsertDismissal(ctx context.Context, d models.Dismissal) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO promo_dismissals (user_id, ad_id, dismissed_at, show_again_after)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, ad_id) DO UPDATE SET dismissed_at=EXCLUDED.dismissed_at, show_again_after=EXCLUDED.show_again_after`,
		d.UserID, d.AdID, d.DismissedAt, d.ShowAgainAfter)
	if err != nil {
		return fmt.Errorf("upsert dismissal: %w", err)
	}
	return nil
}

// UpsertSeenPromo writes the seen record for (user, ad), replacing any previous one.
func (p *Postgres) UpsertSeenPromo(ctx context.Context, s models.SeenPromo) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO promo_seen (user_id, ad_id, seen_at, app_version)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, ad_id) DO UPDATE SET seen_at=EXCLUDED.seen_at, app_version=EXCLUDED.app_version`,
		s.UserID, s.AdID, s.SeenAt, s.AppVersion)
	if err != nil {
		return fmt.Errorf("upsert seen promo: %w", err)
	}
	return nil
}

// LoadUserState fetches a user's dismissal and seen-promo records in a single
// round trip. Both tables are small per user (one row per ad) so a UNION read
// keeps eligibility at one ad fetch plus one state fetch per request.
func (p *Postgres) LoadUserState(ctx context.Context, userID string) (*models.UserState, error) {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT 'dismissal' AS kind, ad_id, dismissed_at, show_again_after, '' AS app_version
		FROM promo_dismissals WHERE user_id = $1
		UNION ALL
		SELECT 'seen' AS kind, ad_id, seen_at, seen_at, app_version
		FROM promo_seen WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user state: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	state := &models.UserState{
		Dismissals: make(map[string]models.Dismissal),
		Seen:       make(map[string]models.SeenPromo),
	}
	for rows.Next() {
		var kind, adID, appVersion string
		var t1, t2 time.Time
		if err := rows.Scan(&kind, &adID, &t1, &t2, &appVersion); err != nil {
			return nil, fmt.Errorf("scan user state: %w", err)
		}
		switch kind {
		case "dismissal":
			state.Dismissals[adID] = models.Dismissal{UserID: userID, AdID: adID, DismissedAt: t1, ShowAgainAfter: t2}
		case "seen":
			state.Seen[adID] = models.SeenPromo{UserID: userID, AdID: adID, SeenAt: t1, AppVersion: appVersion}
		}
	}
	return state, rows.Err()
}

// IncrementCounter atomically bumps one of the ad counters in place. The
// increment happens inside the database so concurrent callers never lose
// updates to a read-modify-write race.
func (p *Postgres) IncrementCounter(ctx context.Context, adID, field string) error {
	var stmt string
	switch field {
	case models.FieldImpressions:
		stmt = `UPDATE advertisements SET impressions = impressions + 1 WHERE id=$1`
	case models.FieldClicks:
		stmt = `UPDATE advertisements SET clicks = clicks + 1 WHERE id=$1`
	case models.FieldDismissals:
		stmt = `UPDATE advertisements SET dismissals = dismissals + 1 WHERE id=$1`
	default:
		return fmt.Errorf("unknown counter field %q", field)
	}
	res, err := p.DB.ExecContext(ctx, stmt, adID)
	if err != nil {
		return fmt.Errorf("increment %s: %w", field, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
