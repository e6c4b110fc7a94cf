package fanout

import (
	"context"

	"github.com/exohunter/promoserve/internal/observability"
)

// MetricsDestination mirrors events into Prometheus counters, which gets the
// event stream onto the same dashboards as the serving metrics. Identity
// operations are no-ops; counters carry no user identifiers.
type MetricsDestination struct {
	metrics observability.MetricsRegistry
}

// NewMetricsDestination constructs the destination.
func NewMetricsDestination(metrics observability.MetricsRegistry) *MetricsDestination {
	return &MetricsDestination{metrics: metrics}
}

func (m *MetricsDestination) Name() string               { return "prometheus" }
func (m *MetricsDestination) Enabled() bool              { return m.metrics != nil }
func (m *MetricsDestination) Init(context.Context) error { return nil }
func (m *MetricsDestination) Close() error               { return nil }

func (m *MetricsDestination) Track(_ context.Context, event string, _ Properties) error {
	m.metrics.IncrementEvent(event)
	return nil
}

func (m *MetricsDestination) Page(_ context.Context, _ string, _ Properties) error {
	m.metrics.IncrementEvent("page_view")
	return nil
}

func (m *MetricsDestination) Identify(context.Context, string, Properties) error  { return nil }
func (m *MetricsDestination) SetUserProperties(context.Context, Properties) error { return nil }
func (m *MetricsDestination) Reset(context.Context) error                         { return nil }

func (m *MetricsDestination) CaptureException(_ context.Context, _ error, meta Properties) error {
	m.metrics.IncrementErrorReports(stringProp(meta, "severity"), stringProp(meta, "category"))
	return nil
}
