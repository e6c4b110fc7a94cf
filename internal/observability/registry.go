package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// This replaces direct access to global Prometheus metrics with dependency injection.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Eligibility metrics
	IncrementAdsServed(location, state string)
	IncrementNoFill(location string)

	// Event tracking metrics
	IncrementImpressions(status string)
	IncrementEvent(eventType string)

	// Counter persistence metrics
	IncrementCounterPersistErrors()

	// Fan-out metrics
	IncrementFanoutDelivery(destination, outcome string)
	IncrementErrorReports(severity, category string)

	// Rate limiting metrics
	IncrementRateLimitRequests(adID string)
	IncrementRateLimitHits(adID string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry.
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAdsServed(location, state string) {
	AdsServed.WithLabelValues(location, state).Inc()
}

func (r *PrometheusRegistry) IncrementNoFill(location string) {
	NoFillCount.WithLabelValues(location).Inc()
}

func (r *PrometheusRegistry) IncrementImpressions(status string) {
	ImpressionCount.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementCounterPersistErrors() {
	CounterPersistErrors.Inc()
}

func (r *PrometheusRegistry) IncrementFanoutDelivery(destination, outcome string) {
	FanoutDeliveries.WithLabelValues(destination, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementErrorReports(severity, category string) {
	ErrorReports.WithLabelValues(severity, category).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitRequests(adID string) {
	RateLimitRequests.WithLabelValues(adID).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(adID string) {
	RateLimitHits.WithLabelValues(adID).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing.
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry.
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementAdsServed(location, state string)                            {}
func (r *NoOpRegistry) IncrementNoFill(location string)                                      {}
func (r *NoOpRegistry) IncrementImpressions(status string)                                   {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
func (r *NoOpRegistry) IncrementCounterPersistErrors()                                       {}
func (r *NoOpRegistry) IncrementFanoutDelivery(destination, outcome string)                  {}
func (r *NoOpRegistry) IncrementErrorReports(severity, category string)                      {}
func (r *NoOpRegistry) IncrementRateLimitRequests(adID string)                               {}
func (r *NoOpRegistry) IncrementRateLimitHits(adID string)                                   {}
