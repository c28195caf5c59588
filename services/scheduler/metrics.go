package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trustd_jobs_completed_total",
	Help: "Job attempt resolutions by resulting state.",
}, []string{"state"})
