// Package metrics holds propbot's Prometheus collectors.
//
// propbot normally runs as a short-lived job, so there is no scrape
// endpoint: WriteTextfile dumps the registry for node_exporter's textfile
// collector at the end of a run.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds only propbot's collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	PollDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propbot_poll_duration_seconds",
			Help:    "Duration of one category poll",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"category"},
	)

	PollsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propbot_polls_total",
			Help: "Category polls by outcome (ok, empty, error)",
		},
		[]string{"category", "result"},
	)

	TasksEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propbot_tasks_enqueued_total",
			Help: "Tasks written to the queue",
		},
		[]string{"type"},
	)

	TasksProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propbot_tasks_processed_total",
			Help: "Tasks consumed by outcome (sent, retried, dropped)",
		},
		[]string{"type", "result"},
	)

	QueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propbot_queue_tasks",
			Help: "Tasks in the queue by status",
		},
		[]string{"status"},
	)

	CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propbot_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propbot_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result (success, failure, rejected)",
		},
		[]string{"name", "result"},
	)

	LastSuccess = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propbot_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job",
		},
		[]string{"job"},
	)
)

// RecordPoll records one category poll.
func RecordPoll(category string, took time.Duration, result string) {
	PollDuration.WithLabelValues(category).Observe(took.Seconds())
	PollsTotal.WithLabelValues(category, result).Inc()
	if result != "error" {
		LastSuccess.WithLabelValues("process_" + category).SetToCurrentTime()
	}
}

// RecordTask records one consumed task.
func RecordTask(taskType, result string) {
	TasksProcessed.WithLabelValues(taskType, result).Inc()
}

// WriteTextfile writes the registry to path in the text exposition format.
// An empty path is a no-op.
func WriteTextfile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Registry)
}
