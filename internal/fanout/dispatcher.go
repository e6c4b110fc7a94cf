package fanout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/exohunter/promoserve/internal/deviceinfo"
	"github.com/exohunter/promoserve/internal/observability"
)

// Error severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeverityFatal   = "fatal"
)

// Error categories.
const (
	CategoryNetwork    = "network"
	CategoryAPI        = "api"
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryComponent  = "component"
	CategoryStorage    = "storage"
	CategoryUnknown    = "unknown"
)

// Report carries caller-supplied classification and context for an error
// report. Zero values are defaulted by simple heuristics, never guessed
// beyond them.
type Report struct {
	Severity   string
	Category   string
	HTTPStatus int
	Context    Properties
	// Device overrides the dispatcher's ambient provider for this report.
	// Server handlers set it to the reporting request's device info.
	Device deviceinfo.Provider
}

// classifySeverity defaults the severity: explicit value wins, then the HTTP
// status heuristic (5xx error, 4xx warning), then error.
func classifySeverity(r Report) string {
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityFatal:
		return r.Severity
	}
	if r.HTTPStatus >= 500 {
		return SeverityError
	}
	if r.HTTPStatus >= 400 {
		return SeverityWarning
	}
	return SeverityError
}

func classifyCategory(r Report) string {
	switch r.Category {
	case CategoryNetwork, CategoryAPI, CategoryAuth, CategoryValidation, CategoryComponent, CategoryStorage:
		return r.Category
	}
	if r.HTTPStatus > 0 {
		return CategoryAPI
	}
	return CategoryUnknown
}

// Outcome records the result of delivering one event to one destination.
type Outcome struct {
	Destination string
	Err         error
}

// Dispatcher fans events out to every enabled destination. All delivery is
// best effort: failures and panics are caught, logged and counted, and the
// caller always proceeds. There is no ordering guarantee across destinations
// or across calls.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	device   deviceinfo.Provider
	env      string
}

// NewDispatcher constructs a Dispatcher. device is the ambient fallback for
// error reports that carry no Report.Device; it may be nil, in which case such
// reports go out without device enrichment.
func NewDispatcher(registry *Registry, logger *zap.Logger, metrics observability.MetricsRegistry, device deviceinfo.Provider, env string) *Dispatcher {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Dispatcher{registry: registry, logger: logger, metrics: metrics, device: device, env: env}
}

// enrich stamps the common fields shared by every destination onto a copy of
// the caller's property bag. The caller's map is never mutated.
func (d *Dispatcher) enrich(props Properties) Properties {
	out := make(Properties, len(props)+2)
	for k, v := range props {
		out[k] = v
	}
	out["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	out["environment"] = d.env
	return out
}

// dispatch runs fn against every active destination, isolating failures.
func (d *Dispatcher) dispatch(op string, fn func(Destination) error) []Outcome {
	dests := d.registry.active()
	outcomes := make([]Outcome, 0, len(dests))
	for _, dest := range dests {
		err := capture(dest, fn)
		outcomes = append(outcomes, Outcome{Destination: dest.Name(), Err: err})
		if err != nil {
			d.metrics.IncrementFanoutDelivery(dest.Name(), "error")
			d.logger.Warn("fanout delivery failed",
				zap.String("destination", dest.Name()),
				zap.String("op", op),
				zap.Error(err))
			continue
		}
		d.metrics.IncrementFanoutDelivery(dest.Name(), "ok")
	}
	return outcomes
}

// capture invokes fn and converts a panic into an error so one misbehaving
// SDK cannot take down the caller or the remaining destinations.
func capture(dest Destination, fn func(Destination) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destination panic: %v", r)
		}
	}()
	return fn(dest)
}

// Track delivers a named event with a property bag to every destination.
// Never returns an error; outcomes are informational.
func (d *Dispatcher) Track(ctx context.Context, event string, props Properties) []Outcome {
	enriched := d.enrich(props)
	d.metrics.IncrementEvent(event)
	return d.dispatch("track", func(dest Destination) error {
		return dest.Track(ctx, event, enriched)
	})
}

// Page delivers a page/screen view event.
func (d *Dispatcher) Page(ctx context.Context, name string, props Properties) []Outcome {
	enriched := d.enrich(props)
	return d.dispatch("page", func(dest Destination) error {
		return dest.Page(ctx, name, enriched)
	})
}

// Identify associates the session with a stable user ID on every destination
// that supports it. Callable repeatedly; the last call wins.
func (d *Dispatcher) Identify(ctx context.Context, userID string, traits Properties) []Outcome {
	enriched := d.enrich(traits)
	return d.dispatch("identify", func(dest Destination) error {
		return dest.Identify(ctx, userID, enriched)
	})
}

// SetUserProperties attaches persistent traits to the current user.
func (d *Dispatcher) SetUserProperties(ctx context.Context, props Properties) []Outcome {
	enriched := d.enrich(props)
	return d.dispatch("set_user_properties", func(dest Destination) error {
		return dest.SetUserProperties(ctx, enriched)
	})
}

// Reset disassociates the user ID from every destination, reversing Identify.
// Called on logout.
func (d *Dispatcher) Reset(ctx context.Context) []Outcome {
	return d.dispatch("reset", func(dest Destination) error {
		return dest.Reset(ctx)
	})
}

// ReportError classifies err, enriches the metadata with device and app
// information when available, and delivers the report to every destination.
func (d *Dispatcher) ReportError(ctx context.Context, err error, report Report) []Outcome {
	severity := classifySeverity(report)
	category := classifyCategory(report)
	d.metrics.IncrementErrorReports(severity, category)

	meta := d.enrich(report.Context)
	meta["severity"] = severity
	meta["category"] = category
	if report.HTTPStatus > 0 {
		meta["http_status"] = report.HTTPStatus
	}

	device := report.Device
	if device == nil {
		device = d.device
	}
	if device != nil {
		// Absent device info degrades gracefully: fields are simply omitted.
		if info, infoErr := device.Info(ctx); infoErr == nil {
			if info.Platform != "" {
				meta["platform"] = info.Platform
			}
			if info.OSVersion != "" {
				meta["os_version"] = info.OSVersion
			}
			if info.AppVersion != "" {
				meta["app_version"] = info.AppVersion
			}
			if info.AppBuild != "" {
				meta["app_build"] = info.AppBuild
			}
		}
	}

	return d.dispatch("capture_exception", func(dest Destination) error {
		return dest.CaptureException(ctx, err, meta)
	})
}
