package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_http_requests_total",
			Help: "Total HTTP requests by route and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_enqueued_total",
			Help: "Jobs admitted and enqueued, by lane.",
		},
		[]string{"lane", "job_type"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_completed_total",
			Help: "Jobs that reached a terminal state, by lane and outcome.",
		},
		[]string{"lane", "outcome"},
	)

	JobsDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_dead_lettered_total",
			Help: "Messages promoted to the dead-letter queue, by lane.",
		},
		[]string{"lane"},
	)

	MalformedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_malformed_messages_total",
			Help: "Queue messages deleted as undecodable poison pills, by lane.",
		},
		[]string{"lane"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Approximate messages visible plus in-flight, sampled by the idle watcher.",
		},
		[]string{"lane"},
	)

	HostStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_host_starts_total",
			Help: "Times the worker host was asked to start.",
		},
	)

	HostStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_host_stops_total",
			Help: "Times the idle watcher asked the worker host to stop.",
		},
	)

	EnginePollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_engine_poll_duration_seconds",
			Help:    "Time spent polling the engine for one job to finish.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// InitMetrics registers every collector with the default registerer. It is
// safe to call once per process.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsEnqueuedTotal,
		JobsCompletedTotal,
		JobsDeadLetteredTotal,
		MalformedMessagesTotal,
		QueueDepth,
		HostStartsTotal,
		HostStopsTotal,
		EnginePollDuration,
	)
}
