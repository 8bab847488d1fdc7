package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Registerer

	// Wizard metrics
	WizardTransitions *prometheus.CounterVec

	// Computation service metrics
	ModelCalls       *prometheus.CounterVec
	ModelCallLatency *prometheus.HistogramVec

	// Background job metrics
	JobAttempts *prometheus.CounterVec
	JobOutcomes *prometheus.CounterVec

	// Notification metrics
	EmailsSent *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics registers the metrics with the default registry
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return globalMetrics
}

// NewMetrics registers the metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,

		WizardTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esachat_wizard_transitions_total",
			Help: "Wizard turns by service and outcome",
		}, []string{"service", "outcome"}), // outcome: "advanced", "rejected", "completed", "deferred", "agent", "exit"

		ModelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esachat_model_calls_total",
			Help: "Computation service calls by service and result",
		}, []string{"service", "result"}),

		// Validation runs routinely take hours
		ModelCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esachat_model_call_duration_seconds",
			Help:    "Computation service call latency in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200, 18000},
		}, []string{"service"}),

		JobAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esachat_job_attempts_total",
			Help: "Validation job delivery attempts by service and result",
		}, []string{"service", "result"}),

		JobOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esachat_job_outcomes_total",
			Help: "Settled validation jobs by service and outcome",
		}, []string{"service", "outcome"}),

		EmailsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esachat_emails_total",
			Help: "Notification emails by kind and result",
		}, []string{"kind", "result"}),
	}
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RegisterInFlight exposes a gauge that reads the in-flight job count on scrape
func (m *Metrics) RegisterInFlight(fn func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "esachat_jobs_in_flight",
		Help: "Validation jobs currently running or waiting to run",
	}, func() float64 { return float64(fn()) })
}

// RecordTransition records a wizard turn
func (m *Metrics) RecordTransition(service, outcome string) {
	if m == nil {
		return
	}
	if service == "" {
		service = "none"
	}
	m.WizardTransitions.WithLabelValues(service, outcome).Inc()
}

// RecordModelCall records a computation service call
func (m *Metrics) RecordModelCall(service, result string, seconds float64) {
	if m == nil {
		return
	}
	m.ModelCalls.WithLabelValues(service, result).Inc()
	m.ModelCallLatency.WithLabelValues(service).Observe(seconds)
}

// RecordJobAttempt records one delivery attempt of a background job
func (m *Metrics) RecordJobAttempt(service, result string) {
	if m == nil {
		return
	}
	m.JobAttempts.WithLabelValues(service, result).Inc()
}

// RecordJobOutcome records how a background job settled
func (m *Metrics) RecordJobOutcome(service, outcome string) {
	if m == nil {
		return
	}
	m.JobOutcomes.WithLabelValues(service, outcome).Inc()
}

// RecordEmail records a notification attempt
func (m *Metrics) RecordEmail(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.EmailsSent.WithLabelValues(kind, result).Inc()
}
