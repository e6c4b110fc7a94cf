package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/deviceinfo"
)

// fakeDest records dispatched calls and can be made to fail or panic.
type fakeDest struct {
	name     string
	enabled  bool
	initErr  error
	trackErr error
	panics   bool

	mu     sync.Mutex
	events []string
	props  []Properties
	errs   []error
}

func newFakeDest(name string) *fakeDest {
	return &fakeDest{name: name, enabled: true}
}

func (f *fakeDest) Name() string               { return f.name }
func (f *fakeDest) Enabled() bool              { return f.enabled }
func (f *fakeDest) Init(context.Context) error { return f.initErr }
func (f *fakeDest) Close() error               { return nil }

func (f *fakeDest) Track(_ context.Context, event string, props Properties) error {
	if f.panics {
		panic("sdk exploded")
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.props = append(f.props, props)
	f.mu.Unlock()
	return f.trackErr
}

func (f *fakeDest) Page(ctx context.Context, name string, props Properties) error {
	return f.Track(ctx, "page:"+name, props)
}

func (f *fakeDest) Identify(ctx context.Context, userID string, traits Properties) error {
	return f.Track(ctx, "identify:"+userID, traits)
}

func (f *fakeDest) SetUserProperties(ctx context.Context, props Properties) error {
	return f.Track(ctx, "set_user_properties", props)
}

func (f *fakeDest) Reset(ctx context.Context) error {
	return f.Track(ctx, "reset", nil)
}

func (f *fakeDest) CaptureException(_ context.Context, err error, meta Properties) error {
	if f.panics {
		panic("sdk exploded")
	}
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.props = append(f.props, meta)
	f.mu.Unlock()
	return f.trackErr
}

func (f *fakeDest) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeDest) lastProps() Properties {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.props) == 0 {
		return nil
	}
	return f.props[len(f.props)-1]
}

// initRegistry builds a registry and waits for async initialization to settle.
func initRegistry(t *testing.T, dests ...Destination) *Registry {
	t.Helper()
	r := NewRegistry(zap.NewNop(), dests...)
	r.Init(context.Background())

	want := 0
	for _, d := range dests {
		if d.Enabled() {
			if fd, ok := d.(*fakeDest); !ok || fd.initErr == nil {
				want++
			}
		}
	}
	deadline := time.After(time.Second)
	for len(r.active()) != want {
		select {
		case <-deadline:
			t.Fatalf("registry never settled: %d active, want %d", len(r.active()), want)
		case <-time.After(time.Millisecond):
		}
	}
	return r
}

func TestDispatchDeliversToAllDestinations(t *testing.T) {
	a, b := newFakeDest("a"), newFakeDest("b")
	d := NewDispatcher(initRegistry(t, a, b), zap.NewNop(), nil, nil, "test")

	outcomes := d.Track(context.Background(), "signup", Properties{"plan": "pro"})

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("destination %s: unexpected error %v", o.Destination, o.Err)
		}
	}
	if a.eventCount() != 1 || b.eventCount() != 1 {
		t.Error("both destinations should receive the event")
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	bad := newFakeDest("bad")
	bad.trackErr = errors.New("quota exceeded")
	good := newFakeDest("good")
	d := NewDispatcher(initRegistry(t, bad, good), zap.NewNop(), nil, nil, "test")

	outcomes := d.Track(context.Background(), "signup", nil)

	var badErr, goodErr error
	for _, o := range outcomes {
		switch o.Destination {
		case "bad":
			badErr = o.Err
		case "good":
			goodErr = o.Err
		}
	}
	if badErr == nil {
		t.Error("failing destination should report its error")
	}
	if goodErr != nil {
		t.Errorf("healthy destination should not be affected: %v", goodErr)
	}
	if good.eventCount() != 1 {
		t.Error("healthy destination should still receive the event")
	}
}

func TestDispatchCapturesPanics(t *testing.T) {
	angry := newFakeDest("angry")
	angry.panics = true
	calm := newFakeDest("calm")
	d := NewDispatcher(initRegistry(t, angry, calm), zap.NewNop(), nil, nil, "test")

	outcomes := d.Track(context.Background(), "signup", nil)

	for _, o := range outcomes {
		if o.Destination == "angry" && o.Err == nil {
			t.Error("panicking destination should surface as an error outcome")
		}
	}
	if calm.eventCount() != 1 {
		t.Error("panic in one destination must not block the others")
	}
}

func TestDispatchEnrichesProperties(t *testing.T) {
	dest := newFakeDest("a")
	d := NewDispatcher(initRegistry(t, dest), zap.NewNop(), nil, nil, "staging")

	original := Properties{"k": "v"}
	d.Track(context.Background(), "signup", original)

	got := dest.lastProps()
	if got["environment"] != "staging" {
		t.Errorf("environment = %v, want staging", got["environment"])
	}
	if _, ok := got["timestamp"]; !ok {
		t.Error("timestamp should be stamped on dispatch")
	}
	if _, ok := original["timestamp"]; ok {
		t.Error("caller's property bag must not be mutated")
	}
}

func TestDisabledDestinationNeverReceives(t *testing.T) {
	off := newFakeDest("off")
	off.enabled = false
	on := newFakeDest("on")
	d := NewDispatcher(initRegistry(t, off, on), zap.NewNop(), nil, nil, "test")

	outcomes := d.Track(context.Background(), "signup", nil)

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if off.eventCount() != 0 {
		t.Error("disabled destination must not receive events")
	}
}

func TestInitFailureDisablesDestination(t *testing.T) {
	broken := newFakeDest("broken")
	broken.initErr = errors.New("dial tcp: refused")
	working := newFakeDest("working")
	d := NewDispatcher(initRegistry(t, broken, working), zap.NewNop(), nil, nil, "test")

	outcomes := d.Track(context.Background(), "signup", nil)

	if len(outcomes) != 1 || outcomes[0].Destination != "working" {
		t.Errorf("only the working destination should be active, got %v", outcomes)
	}
}

func TestReportErrorDeviceEnrichment(t *testing.T) {
	dest := newFakeDest("a")
	device := deviceinfo.Static{Value: deviceinfo.Info{
		Platform:   "android",
		OSVersion:  "13.0.0",
		AppVersion: "2.4.1",
		AppBuild:   "2401",
	}}
	d := NewDispatcher(initRegistry(t, dest), zap.NewNop(), nil, device, "test")

	d.ReportError(context.Background(), errors.New("boom"), Report{})

	meta := dest.lastProps()
	if meta["platform"] != "android" {
		t.Errorf("platform = %v, want android", meta["platform"])
	}
	if meta["os_version"] != "13.0.0" {
		t.Errorf("os_version = %v, want 13.0.0", meta["os_version"])
	}
	if meta["app_version"] != "2.4.1" {
		t.Errorf("app_version = %v, want 2.4.1", meta["app_version"])
	}
	if meta["app_build"] != "2401" {
		t.Errorf("app_build = %v, want 2401", meta["app_build"])
	}
}

func TestReportErrorOmitsUnknownDeviceFields(t *testing.T) {
	dest := newFakeDest("a")
	device := deviceinfo.Static{Value: deviceinfo.Info{Platform: "web"}}
	d := NewDispatcher(initRegistry(t, dest), zap.NewNop(), nil, device, "test")

	d.ReportError(context.Background(), errors.New("boom"), Report{})

	meta := dest.lastProps()
	if meta["platform"] != "web" {
		t.Errorf("platform = %v, want web", meta["platform"])
	}
	for _, key := range []string{"os_version", "app_version", "app_build"} {
		if _, ok := meta[key]; ok {
			t.Errorf("%s should be omitted when unknown", key)
		}
	}
}

func TestReportErrorWithoutDeviceProvider(t *testing.T) {
	dest := newFakeDest("a")
	d := NewDispatcher(initRegistry(t, dest), zap.NewNop(), nil, nil, "test")

	d.ReportError(context.Background(), errors.New("boom"), Report{})

	meta := dest.lastProps()
	for _, key := range []string{"platform", "os_version", "app_version", "app_build"} {
		if _, ok := meta[key]; ok {
			t.Errorf("%s should be absent without a device provider", key)
		}
	}
}

func TestReportDeviceOverridesAmbientProvider(t *testing.T) {
	dest := newFakeDest("a")
	ambient := deviceinfo.Static{Value: deviceinfo.Info{Platform: "web"}}
	d := NewDispatcher(initRegistry(t, dest), zap.NewNop(), nil, ambient, "test")

	d.ReportError(context.Background(), errors.New("boom"), Report{
		Device: deviceinfo.Static{Value: deviceinfo.Info{Platform: "ios", AppVersion: "3.0.0"}},
	})

	meta := dest.lastProps()
	if meta["platform"] != "ios" {
		t.Errorf("platform = %v, want the report's own provider to win", meta["platform"])
	}
	if meta["app_version"] != "3.0.0" {
		t.Errorf("app_version = %v, want 3.0.0", meta["app_version"])
	}
}

func TestReportErrorClassification(t *testing.T) {
	testCases := []struct {
		name         string
		report       Report
		wantSeverity string
		wantCategory string
	}{
		{
			name:         "explicit values win",
			report:       Report{Severity: SeverityFatal, Category: CategoryAuth},
			wantSeverity: SeverityFatal,
			wantCategory: CategoryAuth,
		},
		{
			name:         "5xx status implies error severity and api category",
			report:       Report{HTTPStatus: 503},
			wantSeverity: SeverityError,
			wantCategory: CategoryAPI,
		},
		{
			name:         "4xx status implies warning severity",
			report:       Report{HTTPStatus: 404},
			wantSeverity: SeverityWarning,
			wantCategory: CategoryAPI,
		},
		{
			name:         "nothing known defaults to error and unknown",
			report:       Report{},
			wantSeverity: SeverityError,
			wantCategory: CategoryUnknown,
		},
		{
			name:         "bogus explicit severity falls through to heuristic",
			report:       Report{Severity: "catastrophic", HTTPStatus: 418},
			wantSeverity: SeverityWarning,
			wantCategory: CategoryAPI,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dest := newFakeDest("a")
			d := NewDispatcher(initRegistry(t, dest), zap.NewNop(), nil, nil, "test")

			d.ReportError(context.Background(), errors.New("boom"), tc.report)

			meta := dest.lastProps()
			if meta["severity"] != tc.wantSeverity {
				t.Errorf("severity = %v, want %v", meta["severity"], tc.wantSeverity)
			}
			if meta["category"] != tc.wantCategory {
				t.Errorf("category = %v, want %v", meta["category"], tc.wantCategory)
			}
		})
	}
}
