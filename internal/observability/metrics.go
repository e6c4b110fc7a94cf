package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promoserve_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// eligibility results per display location, labelled shown/hidden
	AdsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_ads_served_total",
			Help: "Total ads returned by eligibility queries",
		},
		[]string{"location", "state"},
	)

	// eligibility queries that produced no showable ads
	NoFillCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_nofill_total",
			Help: "Total eligibility queries with no showable ads",
		},
		[]string{"location"},
	)

	// number of impression events received (status code label)
	ImpressionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_impressions_total",
			Help: "Total impression events",
		},
		[]string{"status"},
	)

	// number of events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)

	// number of errors persisting ad counters
	CounterPersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promoserve_counter_persist_errors_total",
			Help: "Total ad counter persistence errors",
		},
	)

	// fan-out deliveries per destination and outcome
	FanoutDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_fanout_deliveries_total",
			Help: "Total fan-out deliveries per destination",
		},
		[]string{"destination", "outcome"},
	)

	// error reports dispatched, labelled by severity and category
	ErrorReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_error_reports_total",
			Help: "Total error reports dispatched",
		},
		[]string{"severity", "category"},
	)

	// rate limit requests per ad
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_ratelimit_requests_total",
			Help: "Total rate limit requests per ad",
		},
		[]string{"ad_id"},
	)

	// rate limit hits per ad
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_ratelimit_hits_total",
			Help: "Total rate limit hits per ad",
		},
		[]string{"ad_id"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		AdsServed,
		NoFillCount,
		ImpressionCount,
		EventCount,
		CounterPersistErrors,
		FanoutDeliveries,
		ErrorReports,
		RateLimitRequests,
		RateLimitHits,
	)
}
