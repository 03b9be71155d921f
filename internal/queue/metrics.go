package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_pipeline_steps_total",
		Help: "Pipeline step executions by step name and result.",
	}, []string{"step", "result"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_pipeline_step_duration_seconds",
		Help:    "Wall time spent executing pipeline steps.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"step"})

	operationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_pipeline_operations_failed_total",
		Help: "Operations that ended in the failed state.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_pipeline_queue_depth",
		Help: "Jobs waiting in the pending queue.",
	})
)
