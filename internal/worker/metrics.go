package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artforge_tasks_processed_total",
		Help: "Tasks driven to a terminal state, by outcome and type.",
	}, []string{"outcome", "type"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artforge_task_duration_seconds",
		Help:    "Wall-clock duration from submission to terminal state.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"type"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "artforge_queue_depth",
		Help: "Number of jobs per queue state.",
	}, []string{"state"})

	refundFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artforge_refund_failures_total",
		Help: "Refunds that could not be applied after a task failed; each one needs operator attention.",
	})
)
