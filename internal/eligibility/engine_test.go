package eligibility

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/models"
)

// fakeStateStore implements StateStore in memory.
type fakeStateStore struct {
	mu         sync.Mutex
	dismissals map[string]models.Dismissal
	seen       map[string]models.SeenPromo
	counters   map[string]int64
	loadCalls  atomic.Int64
	failLoad   bool
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{
		dismissals: make(map[string]models.Dismissal),
		seen:       make(map[string]models.SeenPromo),
		counters:   make(map[string]int64),
	}
}

func (f *fakeStateStore) LoadUserState(ctx context.Context, userID string) (*models.UserState, error) {
	f.loadCalls.Add(1)
	if f.failLoad {
		return nil, errors.New("connection refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state := &models.UserState{
		Dismissals: make(map[string]models.Dismissal),
		Seen:       make(map[string]models.SeenPromo),
	}
	for k, d := range f.dismissals {
		if d.UserID == userID {
			state.Dismissals[k] = d
		}
	}
	for k, s := range f.seen {
		if s.UserID == userID {
			state.Seen[k] = s
		}
	}
	return state, nil
}

func (f *fakeStateStore) UpsertDismissal(ctx context.Context, d models.Dismissal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissals[d.AdID] = d
	return nil
}

func (f *fakeStateStore) UpsertSeenPromo(ctx context.Context, s models.SeenPromo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[s.AdID] = s
	return nil
}

func (f *fakeStateStore) IncrementCounter(ctx context.Context, adID, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[adID+":"+field]++
	return nil
}

func newTestEngine(t *testing.T, ads []models.Advertisement, state StateStore) *Engine {
	t.Helper()
	store := models.NewInMemoryAdStore()
	if err := store.ReloadAll(ads); err != nil {
		t.Fatalf("reload ads: %v", err)
	}
	return New(store, state, nil, zap.NewNop(), nil)
}

func withFixedNow(t *testing.T, now time.Time) {
	t.Helper()
	orig := nowFn
	nowFn = func() time.Time { return now }
	t.Cleanup(func() { nowFn = orig })
}

func TestGetAdsWithUserStateOrdersByPriority(t *testing.T) {
	withFixedNow(t, testNow)
	engine := newTestEngine(t, []models.Advertisement{
		makeAd("low", 10),
		makeAd("high", 90),
		makeAd("mid", 50),
	}, newFakeStateStore())

	got, err := engine.GetAdsWithUserState(context.Background(), Query{
		UserID:   "u1",
		Location: models.LocationPageSlider,
		Platform: models.PlatformWeb,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"high", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("got %d ads, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestGetAdsWithUserStateInvalidLocation(t *testing.T) {
	engine := newTestEngine(t, nil, newFakeStateStore())
	_, err := engine.GetAdsWithUserState(context.Background(), Query{Location: "sidebar"})
	if !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("got %v, want ErrInvalidLocation", err)
	}
}

func TestGetAdsWithUserStateAnonymousSkipsStateLoad(t *testing.T) {
	withFixedNow(t, testNow)
	state := newFakeStateStore()
	engine := newTestEngine(t, []models.Advertisement{makeAd("a", 50)}, state)

	got, err := engine.GetAdsWithUserState(context.Background(), Query{
		Location: models.LocationPageSlider,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.loadCalls.Load() != 0 {
		t.Errorf("anonymous query loaded user state %d times, want 0", state.loadCalls.Load())
	}
	if len(got) != 1 || !got[0].ShouldShow {
		t.Error("anonymous user should see the ad")
	}
}

func TestGetAdsWithUserStateFailClosed(t *testing.T) {
	withFixedNow(t, testNow)
	state := newFakeStateStore()
	state.failLoad = true
	engine := newTestEngine(t, []models.Advertisement{makeAd("a", 50)}, state)

	got, err := engine.GetAdsWithUserState(context.Background(), Query{
		UserID:   "u1",
		Location: models.LocationPageSlider,
	})
	if err == nil {
		t.Fatal("expected error when state load fails")
	}
	if got != nil {
		t.Errorf("got %d ads on state failure, want nil (show nothing)", len(got))
	}
}

func TestDismissAdThenHidden(t *testing.T) {
	withFixedNow(t, testNow)
	state := newFakeStateStore()
	engine := newTestEngine(t, []models.Advertisement{makeAd("a", 50)}, state)

	if err := engine.DismissAd(context.Background(), "u1", "a", 7); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	got, err := engine.GetAdsWithUserState(context.Background(), Query{
		UserID:   "u1",
		Location: models.LocationPageSlider,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d ads, want 1", len(got))
	}
	if got[0].ShouldShow {
		t.Error("dismissed ad should be hidden")
	}

	d := state.dismissals["a"]
	if want := testNow.AddDate(0, 0, 7); !d.ShowAgainAfter.Equal(want) {
		t.Errorf("ShowAgainAfter = %v, want %v", d.ShowAgainAfter, want)
	}
}

func TestDismissAdZeroCooldownImmediatelyEligible(t *testing.T) {
	withFixedNow(t, testNow)
	state := newFakeStateStore()
	engine := newTestEngine(t, []models.Advertisement{makeAd("a", 50)}, state)

	if err := engine.DismissAd(context.Background(), "u1", "a", 0); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	got, err := engine.GetAdsWithUserState(context.Background(), Query{
		UserID:   "u1",
		Location: models.LocationPageSlider,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got[0].ShouldShow {
		t.Error("zero cooldown should leave the ad immediately eligible")
	}
}

func TestDismissAdRequiresUser(t *testing.T) {
	engine := newTestEngine(t, nil, newFakeStateStore())
	if err := engine.DismissAd(context.Background(), "", "a", 7); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("got %v, want ErrMissingUser", err)
	}
}

func TestMarkPromoSeenHidesOneTimeModal(t *testing.T) {
	withFixedNow(t, testNow)
	state := newFakeStateStore()
	engine := newTestEngine(t, []models.Advertisement{
		makeAd("a", 50, func(ad *models.Advertisement) {
			ad.DisplayLocations = []string{models.LocationOneTimeModal}
		}),
	}, state)

	if err := engine.MarkPromoSeen(context.Background(), "u1", "a", ""); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	got, err := engine.GetAdsWithUserState(context.Background(), Query{
		UserID:   "u1",
		Location: models.LocationOneTimeModal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d ads, want 1: seen ads stay in results", len(got))
	}
	if got[0].ShouldShow {
		t.Error("seen one-time ad should be hidden")
	}
	if got[0].HiddenReason != models.HiddenSeen {
		t.Errorf("hidden reason = %q, want %q", got[0].HiddenReason, models.HiddenSeen)
	}
}

func TestIncrementAnalyticsConcurrent(t *testing.T) {
	state := newFakeStateStore()
	engine := newTestEngine(t, []models.Advertisement{makeAd("a", 50)}, state)

	const workers = 20
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				engine.IncrementAnalytics(context.Background(), "a", models.FieldImpressions)
			}
		}()
	}
	wg.Wait()

	state.mu.Lock()
	got := state.counters["a:impressions"]
	state.mu.Unlock()
	if got != workers*perWorker {
		t.Errorf("counter = %d, want %d", got, workers*perWorker)
	}
}

func TestIncrementAnalyticsUnknownField(t *testing.T) {
	state := newFakeStateStore()
	engine := newTestEngine(t, nil, state)

	engine.IncrementAnalytics(context.Background(), "a", "views")

	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.counters) != 0 {
		t.Error("unknown field must not touch counters")
	}
}
