package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var graderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "trustd_grader_duration_seconds",
	Help:    "Wall-clock duration of grader invocations.",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
})
