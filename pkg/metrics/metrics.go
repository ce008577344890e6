// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ContributionsTotal counts submitted contributions by resulting status.
	ContributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_contributions_total",
			Help: "Contributions submitted, labeled by staging status",
		},
		[]string{"status"},
	)

	// ConflictsDetectedTotal counts conflicts found by the detector.
	ConflictsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_conflicts_detected_total",
			Help: "Conflicts detected during submission, labeled by type",
		},
		[]string{"type"},
	)

	// ResolutionsTotal counts resolution outcomes by action.
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_resolutions_total",
			Help: "Contribution resolutions, labeled by action",
		},
		[]string{"action"},
	)

	// DetectionDuration tracks conflict detection latency.
	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curator_detection_duration_seconds",
			Help:    "Time spent running the conflict detector",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RateLimited counts rate-limited requests by operation.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_rate_limited_total",
			Help: "Requests rejected by the rate limiter, labeled by operation",
		},
		[]string{"operation"},
	)
)
