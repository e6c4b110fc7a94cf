package eligibility

import (
	"sort"
	"time"

	"github.com/exohunter/promoserve/internal/models"
)

// FilterCandidates returns the ads that are candidates for a display location
// on a platform at the given instant: active, location targeted, platform
// targeted, flight window open. Per-user state is applied later; this filter
// is the same for every user.
func FilterCandidates(ads []models.Advertisement, location, platform string, now time.Time) []models.Advertisement {
	out := make([]models.Advertisement, 0, len(ads))
	for _, ad := range ads {
		if !ad.Active {
			continue
		}
		if !ad.HasLocation(location) {
			continue
		}
		if platform != "" && !ad.HasPlatform(platform) {
			continue
		}
		if !ad.InFlight(now) {
			continue
		}
		out = append(out, ad)
	}
	return out
}

// SortByPriority orders ads by priority descending, ties broken by most
// recently updated first. Stable, so equal ads keep their input order and the
// result is deterministic for identical inputs.
func SortByPriority(ads []models.Advertisement) {
	sort.SliceStable(ads, func(i, j int) bool {
		if ads[i].Priority != ads[j].Priority {
			return ads[i].Priority > ads[j].Priority
		}
		return ads[i].UpdatedAt.After(ads[j].UpdatedAt)
	})
}

// Annotate applies per-user state to a candidate list. An ad is hidden when a
// dismissal cooldown is still running, or (for the one-time modal only) when
// a seen record blocks it for the requesting app version. state may be nil
// (anonymous user), in which case every candidate is showable.
func Annotate(ads []models.Advertisement, state *models.UserState, location, appVersion string, now time.Time) []models.AdWithState {
	out := make([]models.AdWithState, 0, len(ads))
	for _, ad := range ads {
		annotated := models.AdWithState{Advertisement: ad, ShouldShow: true}

		if d, ok := state.Dismissed(ad.ID); ok && d.InCooldown(now) {
			annotated.ShouldShow = false
			annotated.HiddenReason = models.HiddenDismissed
		} else if location == models.LocationOneTimeModal {
			if s, ok := state.SeenRecord(ad.ID); ok && s.Blocks(appVersion) {
				annotated.ShouldShow = false
				annotated.HiddenReason = models.HiddenSeen
			}
		}

		out = append(out, annotated)
	}
	return out
}
