package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msggw_messages_total",
			Help: "Message lifecycle counter by stage and platform",
		},
		[]string{"stage", "platform"}, // enqueued|completed|retried|dead_lettered , facebook|instagram
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msggw_dead_letters_total",
			Help: "Permanently failed messages by platform and reason",
		},
		[]string{"platform", "reason"}, // permanent|exhausted
	)

	BatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msggw_batch_runs_total",
			Help: "Batch runner invocations by result",
		},
		[]string{"result"}, // ok|error
	)

	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msggw_processing_duration_seconds",
			Help:    "Wall time of a single processor invocation",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		MessagesTotal,
		DeadLettersTotal,
		BatchRunsTotal,
		ProcessingDuration,
	)
}
