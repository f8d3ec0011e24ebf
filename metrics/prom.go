package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vanishbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vanishbin_paste_consumed_total",
		Help: "no. of successful paste views",
	})
	PasteNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vanishbin_paste_not_found_total",
		Help: "no. of reads of unknown or expired ids",
	})
	PasteExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanishbin_paste_expired_total",
			Help: "no. of pastes deleted on read, by expiry rule",
		},
		[]string{"reason"},
	)
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vanishbin_id_collisions_total",
		Help: "no. of generated ids that were already taken",
	})
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanishbin_backend_errors_total",
			Help: "no. of infrastructure errors from the paste backend",
		},
		[]string{"backend", "op"},
	)
	BackendUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vanishbin_backend_up",
		Help: "1 if the last health probe reached the backend",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vanishbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)
