package models

import "time"

// Hidden reasons reported on AdWithState when ShouldShow is false.
const (
	HiddenDismissed = "dismissed"
	HiddenSeen      = "seen"
)

// Dismissal records that a user dismissed an ad. Exactly one row exists per
// (UserID, AdID) pair; re-dismissal upserts the row, opening a fresh cooldown
// window. While now < ShowAgainAfter the ad is ineligible at every location
// for that user.
type Dismissal struct {
	UserID         string    `json:"user_id"`
	AdID           string    `json:"ad_id"`
	DismissedAt    time.Time `json:"dismissed_at"`
	ShowAgainAfter time.Time `json:"show_again_after"`
}

// InCooldown reports whether the dismissal still suppresses the ad at the
// given instant. The boundary is exclusive: at exactly ShowAgainAfter the ad
// becomes eligible again.
func (d *Dismissal) InCooldown(now time.Time) bool {
	return now.Before(d.ShowAgainAfter)
}

// SeenPromo records that a user has seen a one-time promo. Exactly one row
// exists per (UserID, AdID) pair. Once recorded the ad is permanently
// ineligible for the one-time modal surface, unless the record carries an
// AppVersion, in which case it only blocks requests made from that version.
type SeenPromo struct {
	UserID     string    `json:"user_id"`
	AdID       string    `json:"ad_id"`
	SeenAt     time.Time `json:"seen_at"`
	AppVersion string    `json:"app_version,omitempty"`
}

// Blocks reports whether the seen record suppresses the ad for a request made
// from the given app version.
func (s *SeenPromo) Blocks(appVersion string) bool {
	if s.AppVersion == "" {
		return true
	}
	return s.AppVersion == appVersion
}

// UserState is the batched per-request view of one user's dismissal and
// seen-promo records, keyed by ad ID. The zero value behaves as an anonymous
// user with no history.
type UserState struct {
	Dismissals map[string]Dismissal
	Seen       map[string]SeenPromo
}

// Dismissed returns the dismissal record for adID, if any.
func (u *UserState) Dismissed(adID string) (Dismissal, bool) {
	if u == nil || u.Dismissals == nil {
		return Dismissal{}, false
	}
	d, ok := u.Dismissals[adID]
	return d, ok
}

// SeenRecord returns the seen-promo record for adID, if any.
func (u *UserState) SeenRecord(adID string) (SeenPromo, bool) {
	if u == nil || u.Seen == nil {
		return SeenPromo{}, false
	}
	s, ok := u.Seen[adID]
	return s, ok
}
