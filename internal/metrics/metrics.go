// Package metrics exposes Prometheus collectors for the acquisition
// pipeline. Collectors register on the default registry; serve them with
// promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carwatch"

var (
	FetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_requests_total",
		Help:      "Fetch attempts by backend and outcome (ok, blocked, error).",
	}, []string{"backend", "outcome"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of single fetch attempts.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"backend"})

	FetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "URLs that failed after exhausting the retry budget.",
	})

	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_escalations_total",
		Help:      "Backend escalations by source and target backend.",
	}, []string{"from", "to"})

	InFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fetch_in_flight",
		Help:      "Requests currently holding a backend concurrency slot.",
	}, []string{"backend"})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for the inter-request delay.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	ListingsCommittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listings_committed_total",
		Help:      "Committed listings by classification (new, updated, price_changed, failed).",
	}, []string{"class"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Acquisition sessions by terminal status.",
	}, []string{"status"})

	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job runs by terminal status.",
	}, []string{"status"})

	CatalogCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_cache_total",
		Help:      "Makes/models cache lookups by result (hit, miss, stale).",
	}, []string{"result"})
)
