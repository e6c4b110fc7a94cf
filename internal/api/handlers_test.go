package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/config"
	"github.com/exohunter/promoserve/internal/deviceinfo"
	"github.com/exohunter/promoserve/internal/eligibility"
	"github.com/exohunter/promoserve/internal/fanout"
	"github.com/exohunter/promoserve/internal/identity"
	"github.com/exohunter/promoserve/internal/models"
	"github.com/exohunter/promoserve/internal/observability"
	"github.com/exohunter/promoserve/internal/ratelimit"
	"github.com/exohunter/promoserve/internal/token"
)

// memStateStore is an in-memory eligibility.StateStore for handler tests.
type memStateStore struct {
	mu         sync.Mutex
	dismissals map[string]models.Dismissal
	seen       map[string]models.SeenPromo
	counters   map[string]int64
}

func newMemStateStore() *memStateStore {
	return &memStateStore{
		dismissals: make(map[string]models.Dismissal),
		seen:       make(map[string]models.SeenPromo),
		counters:   make(map[string]int64),
	}
}

func (m *memStateStore) LoadUserState(ctx context.Context, userID string) (*models.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := &models.UserState{
		Dismissals: make(map[string]models.Dismissal),
		Seen:       make(map[string]models.SeenPromo),
	}
	for k, d := range m.dismissals {
		if d.UserID == userID {
			state.Dismissals[k] = d
		}
	}
	for k, s := range m.seen {
		if s.UserID == userID {
			state.Seen[k] = s
		}
	}
	return state, nil
}

func (m *memStateStore) UpsertDismissal(ctx context.Context, d models.Dismissal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissals[d.AdID] = d
	return nil
}

func (m *memStateStore) UpsertSeenPromo(ctx context.Context, s models.SeenPromo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[s.AdID] = s
	return nil
}

func (m *memStateStore) IncrementCounter(ctx context.Context, adID, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[adID+":"+field]++
	return nil
}

func (m *memStateStore) counter(adID, field string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[adID+":"+field]
}

// recordingDest captures fanout deliveries for assertions.
type recordingDest struct {
	mu       sync.Mutex
	events   []string
	lastMeta fanout.Properties
}

func (r *recordingDest) Name() string               { return "recording" }
func (r *recordingDest) Enabled() bool              { return true }
func (r *recordingDest) Init(context.Context) error { return nil }
func (r *recordingDest) Close() error               { return nil }

func (r *recordingDest) Track(_ context.Context, event string, _ fanout.Properties) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingDest) Page(ctx context.Context, name string, props fanout.Properties) error {
	return r.Track(ctx, "page:"+name, props)
}

func (r *recordingDest) Identify(ctx context.Context, userID string, traits fanout.Properties) error {
	return r.Track(ctx, "identify", traits)
}

func (r *recordingDest) SetUserProperties(ctx context.Context, props fanout.Properties) error {
	return r.Track(ctx, "set_user_properties", props)
}

func (r *recordingDest) Reset(ctx context.Context) error { return r.Track(ctx, "reset", nil) }

func (r *recordingDest) CaptureException(ctx context.Context, err error, meta fanout.Properties) error {
	r.mu.Lock()
	r.lastMeta = meta
	r.mu.Unlock()
	return r.Track(ctx, "exception", meta)
}

func (r *recordingDest) exceptionMeta() fanout.Properties {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMeta
}

func (r *recordingDest) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	srv    *Server
	router *mux.Router
	state  *memStateStore
	dest   *recordingDest
}

func testAd(id string) models.Advertisement {
	return models.Advertisement{
		ID:                  id,
		Type:                models.AdTypeWebApp,
		Title:               "Ad " + id,
		CTAURL:              "https://example.com/landing",
		DisplayLocations:    []string{models.LocationPageSlider},
		TargetPlatforms:     []string{models.PlatformWeb},
		Active:              true,
		Priority:            50,
		Dismissible:         true,
		DismissCooldownDays: 7,
	}
}

func newTestEnv(t *testing.T, ads ...models.Advertisement) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NewNoOpRegistry()

	adStore := models.NewInMemoryAdStore()
	if err := adStore.ReloadAll(ads); err != nil {
		t.Fatalf("reload ads: %v", err)
	}

	state := newMemStateStore()
	engine := eligibility.New(adStore, state, nil, logger, metrics)

	dest := &recordingDest{}
	registry := fanout.NewRegistry(logger, dest)
	registry.Init(context.Background())
	t.Cleanup(registry.Close)

	dispatcher := fanout.NewDispatcher(registry, logger, metrics, nil, "test")

	// Wait for the async destination init to settle so deliveries are
	// deterministic in tests.
	deadline := time.After(time.Second)
	for !dest.has("__ready") {
		if out := dispatcher.Track(context.Background(), "__ready", nil); len(out) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fanout registry never became active")
		case <-time.After(time.Millisecond):
		}
	}

	limiter := ratelimit.NewAdLimiter(ratelimit.Config{Capacity: 100, RefillRate: 100, Enabled: true}, metrics)

	srv := NewServer(logger, nil, nil, engine, dispatcher, nil, identity.NewHeaderProvider(""), limiter,
		[]byte("test-secret"), time.Minute, adStore, metrics, config.Config{Environment: "test"})

	r := mux.NewRouter()
	r.HandleFunc("/ads", srv.GetAdsHandler).Methods("POST")
	r.HandleFunc("/impression", srv.ImpressionHandler).Methods("GET")
	r.HandleFunc("/click", srv.ClickHandler).Methods("GET")
	r.HandleFunc("/dismiss", srv.DismissHandler).Methods("POST")
	r.HandleFunc("/seen", srv.SeenHandler).Methods("POST")
	r.HandleFunc("/track", srv.TrackHandler).Methods("POST")
	r.HandleFunc("/errors", srv.ErrorsHandler).Methods("POST")
	r.HandleFunc("/health", srv.HealthHandler).Methods("GET")
	crud := r.PathPrefix("/api").Subrouter()
	crud.HandleFunc("/ads", srv.ListAds).Methods("GET")
	crud.HandleFunc("/ads", srv.CreateAd).Methods("POST")
	crud.HandleFunc("/ads/{id}", srv.GetAdByID).Methods("GET")
	crud.HandleFunc("/ads/{id}", srv.UpdateAd).Methods("PUT")
	crud.HandleFunc("/ads/{id}", srv.DeleteAd).Methods("DELETE")
	crud.HandleFunc("/ads/{id}/stats", srv.AdStatsHandler).Methods("GET")

	return &testEnv{srv: srv, router: r, state: state, dest: dest}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func TestGetAdsHandler(t *testing.T) {
	env := newTestEnv(t, testAd("a"), testAd("b"))

	req := httptest.NewRequest("POST", "/ads", jsonBody(t, AdsRequest{Location: models.LocationPageSlider}))
	req.Header.Set(identity.HeaderUserID, "u1")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp AdsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("request_id missing")
	}
	if len(resp.Ads) != 2 {
		t.Fatalf("got %d ads, want 2", len(resp.Ads))
	}
	for _, ad := range resp.Ads {
		if !ad.ShouldShow {
			t.Errorf("ad %s should be showable", ad.ID)
		}
		if ad.ImpressionURL == "" || ad.ClickURL == "" {
			t.Errorf("ad %s missing pixel URLs", ad.ID)
		}
	}
}

func TestGetAdsHandlerBadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest("POST", "/ads", bytes.NewReader([]byte("{"))))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}

	rec = env.do(httptest.NewRequest("POST", "/ads", jsonBody(t, AdsRequest{})))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing location: status = %d, want 400", rec.Code)
	}

	rec = env.do(httptest.NewRequest("POST", "/ads", jsonBody(t, AdsRequest{Location: "sidebar"})))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("unknown location: status = %d, want 500", rec.Code)
	}
}

func TestImpressionHandler(t *testing.T) {
	env := newTestEnv(t, testAd("a"))

	tok, err := token.Generate("req-1", "a", "u1", models.LocationPageSlider, []byte("test-secret"))
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rec := env.do(httptest.NewRequest("GET", "/impression?t="+tok, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %q, want image/gif", ct)
	}
	if got := env.state.counter("a", models.FieldImpressions); got != 1 {
		t.Errorf("impression counter = %d, want 1", got)
	}
	if !env.dest.has("promo_impression") {
		t.Error("impression event not fanned out")
	}
}

func TestImpressionHandlerRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t, testAd("a"))

	rec := env.do(httptest.NewRequest("GET", "/impression", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	rec = env.do(httptest.NewRequest("GET", "/impression?t=garbage", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: status = %d, want 401", rec.Code)
	}

	tok, err := token.Generate("req-1", "a", "u1", models.LocationPageSlider, []byte("wrong-secret"))
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	rec = env.do(httptest.NewRequest("GET", "/impression?t="+tok, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}
}

func TestClickHandlerRedirects(t *testing.T) {
	env := newTestEnv(t, testAd("a"))

	tok, err := token.Generate("req-1", "a", "u1", models.LocationPageSlider, []byte("test-secret"))
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rec := env.do(httptest.NewRequest("GET", "/click?t="+tok, nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://example.com/landing" {
		t.Errorf("redirect = %q", loc)
	}
	if got := env.state.counter("a", models.FieldClicks); got != 1 {
		t.Errorf("click counter = %d, want 1", got)
	}
}

func TestClickHandlerPixelForUnsafeCTA(t *testing.T) {
	ad := testAd("a")
	ad.CTAURL = "javascript:alert(1)"
	env := newTestEnv(t, ad)

	tok, err := token.Generate("req-1", "a", "u1", models.LocationPageSlider, []byte("test-secret"))
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rec := env.do(httptest.NewRequest("GET", "/click?t="+tok, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 pixel fallback", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %q, want image/gif", ct)
	}
}

func TestDismissHandler(t *testing.T) {
	env := newTestEnv(t, testAd("a"))

	req := httptest.NewRequest("POST", "/dismiss", jsonBody(t, DismissRequest{AdID: "a"}))
	req.Header.Set(identity.HeaderUserID, "u1")
	rec := env.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := env.state.counter("a", models.FieldDismissals); got != 1 {
		t.Errorf("dismissal counter = %d, want 1", got)
	}

	// The dismissed ad is hidden on the next eligibility request.
	adsReq := httptest.NewRequest("POST", "/ads", jsonBody(t, AdsRequest{Location: models.LocationPageSlider}))
	adsReq.Header.Set(identity.HeaderUserID, "u1")
	adsRec := env.do(adsReq)
	var resp AdsResponse
	if err := json.Unmarshal(adsRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Ads) != 1 || resp.Ads[0].ShouldShow {
		t.Errorf("dismissed ad should stay in results hidden: %+v", resp.Ads)
	}
}

func TestDismissHandlerErrors(t *testing.T) {
	nonDismissible := testAd("fixed")
	nonDismissible.Dismissible = false
	env := newTestEnv(t, testAd("a"), nonDismissible)

	// Anonymous.
	rec := env.do(httptest.NewRequest("POST", "/dismiss", jsonBody(t, DismissRequest{AdID: "a"})))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}

	// Unknown ad.
	req := httptest.NewRequest("POST", "/dismiss", jsonBody(t, DismissRequest{AdID: "nope"}))
	req.Header.Set(identity.HeaderUserID, "u1")
	if rec := env.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("unknown ad: status = %d, want 404", rec.Code)
	}

	// Non-dismissible ad.
	req = httptest.NewRequest("POST", "/dismiss", jsonBody(t, DismissRequest{AdID: "fixed"}))
	req.Header.Set(identity.HeaderUserID, "u1")
	if rec := env.do(req); rec.Code != http.StatusForbidden {
		t.Errorf("non-dismissible: status = %d, want 403", rec.Code)
	}
}

func TestSeenHandler(t *testing.T) {
	ad := testAd("a")
	ad.DisplayLocations = []string{models.LocationOneTimeModal}
	env := newTestEnv(t, ad)

	req := httptest.NewRequest("POST", "/seen", jsonBody(t, SeenRequest{AdID: "a", AppVersion: "2.0.0"}))
	req.Header.Set(identity.HeaderUserID, "u1")
	rec := env.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	env.state.mu.Lock()
	s := env.state.seen["a"]
	env.state.mu.Unlock()
	if s.UserID != "u1" || s.AppVersion != "2.0.0" {
		t.Errorf("seen record = %+v", s)
	}
}

func TestTrackHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest("POST", "/track", jsonBody(t, TrackRequest{Event: "signup"})))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp TrackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Delivered != 1 || resp.Failed != 0 {
		t.Errorf("response = %+v", resp)
	}
	if !env.dest.has("signup") {
		t.Error("event not delivered")
	}

	rec = env.do(httptest.NewRequest("POST", "/track", jsonBody(t, TrackRequest{})))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing event: status = %d, want 400", rec.Code)
	}

	rec = env.do(httptest.NewRequest("POST", "/track", jsonBody(t, TrackRequest{Action: "explode"})))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action: status = %d, want 400", rec.Code)
	}
}

func TestErrorsHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest("POST", "/errors", jsonBody(t, ErrorReportRequest{
		Message:    "fetch failed",
		HTTPStatus: 503,
	})))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !env.dest.has("exception") {
		t.Error("error report not delivered")
	}

	rec = env.do(httptest.NewRequest("POST", "/errors", jsonBody(t, ErrorReportRequest{})))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing message: status = %d, want 400", rec.Code)
	}
}

func TestErrorsHandlerCarriesDeviceInfo(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/errors", jsonBody(t, ErrorReportRequest{Message: "render crash"}))
	req.Header.Set(deviceinfo.HeaderPlatform, "android")
	req.Header.Set(deviceinfo.HeaderAppVersion, "2.4.1")
	req.Header.Set(deviceinfo.HeaderAppBuild, "2401")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	meta := env.dest.exceptionMeta()
	if meta == nil {
		t.Fatal("error report not delivered")
	}
	if meta["platform"] != "android" {
		t.Errorf("platform = %v, want android", meta["platform"])
	}
	if meta["app_version"] != "2.4.1" {
		t.Errorf("app_version = %v, want 2.4.1", meta["app_version"])
	}
	if meta["app_build"] != "2401" {
		t.Errorf("app_build = %v, want 2401", meta["app_build"])
	}
	if _, ok := meta["os_version"]; ok {
		t.Error("os_version should be omitted without a parseable user agent")
	}
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAdCRUD(t *testing.T) {
	env := newTestEnv(t)

	// Create.
	ad := testAd("crud-1")
	rec := env.do(httptest.NewRequest("POST", "/api/ads", jsonBody(t, ad)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Read.
	rec = env.do(httptest.NewRequest("GET", "/api/ads/crud-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	// Update.
	ad.Title = "renamed"
	rec = env.do(httptest.NewRequest("PUT", "/api/ads/crud-1", jsonBody(t, ad)))
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated models.Advertisement
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Title != "renamed" {
		t.Errorf("title = %q", updated.Title)
	}

	// Stats for an existing ad.
	rec = env.do(httptest.NewRequest("GET", "/api/ads/crud-1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}

	// Delete.
	rec = env.do(httptest.NewRequest("DELETE", "/api/ads/crud-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest("GET", "/api/ads/crud-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestCreateAdValidation(t *testing.T) {
	env := newTestEnv(t)

	bad := testAd("x")
	bad.Title = ""
	rec := env.do(httptest.NewRequest("POST", "/api/ads", jsonBody(t, bad)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty title: status = %d, want 400", rec.Code)
	}

	bad = testAd("y")
	bad.Priority = 500
	rec = env.do(httptest.NewRequest("POST", "/api/ads", jsonBody(t, bad)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("priority out of range: status = %d, want 400", rec.Code)
	}
}
