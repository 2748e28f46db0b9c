// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Coordinator metrics
	TasksAdmitted      *prometheus.CounterVec
	TasksCompleted     *prometheus.CounterVec
	AdmissionsRejected *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	InFlightTasks      prometheus.Gauge
	CachedReports      prometheus.Gauge
	TaskDuration       *prometheus.HistogramVec

	// Credit metrics
	CreditsDebited  prometheus.Counter
	CreditsRefunded prometheus.Counter
	RefundFailures  prometheus.Counter

	// Delivery metrics
	ReportsDelivered     prometheus.Counter
	FailureNotifications prometheus.Counter

	// Provider metrics
	ProviderCallLatency *prometheus.HistogramVec
	ProviderCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "holderscope"
	}

	return &Metrics{
		// Coordinator metrics
		TasksAdmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "tasks_admitted_total",
			Help:      "Total number of admitted analysis tasks by kind",
		}, []string{"kind"}),
		TasksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "tasks_completed_total",
			Help:      "Total number of finished analysis tasks by kind and status",
		}, []string{"kind", "status"}),
		AdmissionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "admissions_rejected_total",
			Help:      "Total number of rejected submissions by reason",
		}, []string{"reason"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "queue_depth",
			Help:      "Current number of pending analysis tasks",
		}),
		InFlightTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "in_flight_tasks",
			Help:      "Current number of in-flight analysis records",
		}),
		CachedReports: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "cached_reports",
			Help:      "Current number of cached analysis reports",
		}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "task_duration_seconds",
			Help:      "Analysis task duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind"}),

		// Credit metrics
		CreditsDebited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "debited_total",
			Help:      "Total credits debited at admission",
		}),
		CreditsRefunded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "refunded_total",
			Help:      "Total credits refunded after task failures",
		}),
		RefundFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "refund_failures_total",
			Help:      "Total number of refunds that could not be issued",
		}),

		// Delivery metrics
		ReportsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "reports_delivered_total",
			Help:      "Total number of reports fanned out to requesters",
		}),
		FailureNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "failure_notifications_total",
			Help:      "Total number of failure notices sent to requesters",
		}),

		// Provider metrics
		ProviderCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Chain-data provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call"}),
		ProviderCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_errors_total",
			Help:      "Total number of chain-data provider call errors",
		}, []string{"call"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordAdmission increments the admitted-tasks counter and the debited
// credits total.
func RecordAdmission(kind string, credits int64) {
	DefaultMetrics.TasksAdmitted.WithLabelValues(kind).Inc()
	DefaultMetrics.CreditsDebited.Add(float64(credits))
}

// RecordRejection records a rejected submission.
func RecordRejection(reason string) {
	DefaultMetrics.AdmissionsRejected.WithLabelValues(reason).Inc()
}

// RecordTaskOutcome records a finished task with its duration.
func RecordTaskOutcome(kind, status string, durationSeconds float64) {
	DefaultMetrics.TasksCompleted.WithLabelValues(kind, status).Inc()
	DefaultMetrics.TaskDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordRefund records a successful or failed refund attempt.
func RecordRefund(credits int64, err error) {
	if err != nil {
		DefaultMetrics.RefundFailures.Inc()
		return
	}
	DefaultMetrics.CreditsRefunded.Add(float64(credits))
}

// RecordDelivery increments the delivered-reports counter.
func RecordDelivery() {
	DefaultMetrics.ReportsDelivered.Inc()
}

// RecordFailureNotice increments the failure-notifications counter.
func RecordFailureNotice() {
	DefaultMetrics.FailureNotifications.Inc()
}

// UpdateCoordinatorGauges updates the queue, in-flight and cache gauges.
func UpdateCoordinatorGauges(queueDepth, inFlight, cached int) {
	DefaultMetrics.QueueDepth.Set(float64(queueDepth))
	DefaultMetrics.InFlightTasks.Set(float64(inFlight))
	DefaultMetrics.CachedReports.Set(float64(cached))
}

// RecordProviderCall records provider call latency and errors.
func RecordProviderCall(call string, seconds float64, err error) {
	DefaultMetrics.ProviderCallLatency.WithLabelValues(call).Observe(seconds)
	if err != nil {
		DefaultMetrics.ProviderCallErrors.WithLabelValues(call).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
