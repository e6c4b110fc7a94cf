package models

import (
	"time"

	"github.com/lib/pq"
)

// Advertisement types describe what kind of product or content a promo points
// at. The type has no delivery semantics of its own; clients use it to pick an
// icon or layout for the unit.
const (
	AdTypeBrowserExtension = "browser_extension"
	AdTypeMobileApp        = "mobile_app"
	AdTypeWebApp           = "web_app"
	AdTypeYouTubeVideo     = "youtube_video"
	AdTypeSocialMedia      = "social_media"
	AdTypeEventOffer       = "event_offer"
)

// Display locations are the distinct client surfaces that can host an
// advertisement. An ad is only a candidate for a location that appears in its
// DisplayLocations set.
const (
	LocationPageSlider       = "page_slider"
	LocationModalSlider      = "modal_slider"
	LocationOneTimeModal     = "one_time_modal"
	LocationPushNotification = "push_notification"
)

// Target platforms. Resolved server-side from the User-Agent when the client
// does not state its platform explicitly.
const (
	PlatformWeb     = "web"
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

// UI variants control how much chrome the client renders around the ad.
const (
	VariantCompact  = "compact"
	VariantStandard = "standard"
	VariantFeatured = "featured"
	VariantBanner   = "banner"
	VariantCard     = "card"
)

// Priority bounds. Higher priority ads are returned first.
const (
	MinPriority = 1
	MaxPriority = 100
)

// ValidLocation reports whether loc is a known display location.
func ValidLocation(loc string) bool {
	switch loc {
	case LocationPageSlider, LocationModalSlider, LocationOneTimeModal, LocationPushNotification:
		return true
	}
	return false
}

// ValidPlatform reports whether p is a known target platform.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformWeb, PlatformAndroid, PlatformIOS:
		return true
	}
	return false
}

// Advertisement is the server-of-record promo entity. It is created and edited
// through the admin CRUD surface and read by every client. Delivery rules
// (locations, platforms, flight window, priority) and the dismissal policy live
// here; per-user state lives in Dismissal and SeenPromo records.
type Advertisement struct {
	ID string `json:"id"` // Opaque unique identifier (UUID).

	// Classification and presentation.
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	BulletPoints pq.StringArray `json:"bullet_points,omitempty"`
	ImageURL     string         `json:"image_url,omitempty"`
	CTAText      string         `json:"cta_text"`
	CTAURL       string         `json:"cta_url"`
	Variant      string         `json:"variant"`

	// Targeting. An ad is a candidate for a request only if the requested
	// location is in DisplayLocations, the request platform is in
	// TargetPlatforms, Active is true and the flight window (when set)
	// contains "now".
	DisplayLocations pq.StringArray `json:"display_locations"`
	TargetPlatforms  pq.StringArray `json:"target_platforms"`
	StartDate        time.Time      `json:"start_date"` // Zero means no flight start.
	EndDate          time.Time      `json:"end_date"`   // Zero means no flight end.
	Active           bool           `json:"active"`

	// Priority ranks candidates, 1..100, higher first.
	Priority int `json:"priority"`

	// Dismissal policy. Dismissible=false ads must never surface a dismiss
	// action in the UI; the engine does not re-validate this on write.
	Dismissible         bool `json:"dismissible"`
	DismissCooldownDays int  `json:"dismiss_cooldown_days"`

	// Server-aggregated counters, monotonically increasing. Updated only via
	// the store's atomic increment, never read-modify-write.
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Dismissals  int64 `json:"dismissals"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLocation reports whether the ad targets the given display location.
func (a *Advertisement) HasLocation(loc string) bool {
	for _, l := range a.DisplayLocations {
		if l == loc {
			return true
		}
	}
	return false
}

// HasPlatform reports whether the ad targets the given platform.
func (a *Advertisement) HasPlatform(p string) bool {
	for _, tp := range a.TargetPlatforms {
		if tp == p {
			return true
		}
	}
	return false
}

// InFlight reports whether the ad's active window contains now. A zero
// StartDate or EndDate means the corresponding bound is open.
func (a *Advertisement) InFlight(now time.Time) bool {
	if !a.StartDate.IsZero() && now.Before(a.StartDate) {
		return false
	}
	if !a.EndDate.IsZero() && now.After(a.EndDate) {
		return false
	}
	return true
}

// AdWithState is an Advertisement annotated with the per-user eligibility
// verdict. Dismissed-but-fetched ads stay in results with ShouldShow=false so
// callers can debug and count them without displaying them.
type AdWithState struct {
	Advertisement
	ShouldShow bool `json:"should_show"`
	// HiddenReason explains a false ShouldShow ("dismissed", "seen"). Empty
	// when ShouldShow is true.
	HiddenReason string `json:"hidden_reason,omitempty"`
	// ImpressionURL and ClickURL are signed pixel URLs minted per response.
	ImpressionURL string `json:"impression_url,omitempty"`
	ClickURL      string `json:"click_url,omitempty"`
}

// Counter field names accepted by the atomic increment operation.
const (
	FieldImpressions = "impressions"
	FieldClicks      = "clicks"
	FieldDismissals  = "dismissals"
)

// ValidCounterField reports whether field names one of the ad counters.
func ValidCounterField(field string) bool {
	switch field {
	case FieldImpressions, FieldClicks, FieldDismissals:
		return true
	}
	return false
}
