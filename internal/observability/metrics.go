package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "matches_total", Help: "Total number of successful driver matches"})
	MatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "match_failures_total", Help: "Matches that found no available driver"})
	MatchLatency       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_sharing", Name: "match_latency_seconds", Help: "Match latency seconds"})
	DriversAvailable   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_sharing", Name: "drivers_available", Help: "Number of available drivers"})

	RidesRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "rides_requested_total", Help: "Total ride requests accepted"})
	RidesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "rides_completed_total", Help: "Total rides completed"})
	FareTotal           = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "fare_total", Help: "Sum of final fares of completed rides"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_sharing", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_sharing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
