// Package metrics provides Prometheus metrics for exportd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exportd"

// Metrics holds all Prometheus metrics for exportd. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Dispatcher metrics
	CyclesTotal      prometheus.Counter
	CycleDuration    prometheus.Histogram
	DueSchedules     prometheus.Gauge
	ClaimsTotal      *prometheus.CounterVec
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RetriesTotal     *prometheus.CounterVec
	CommitsLostTotal prometheus.Counter
	InFlight         prometheus.Gauge

	// Executor metrics
	BreakerState *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry prometheus.Gatherer
}

// New creates a new Metrics instance registered on reg. A nil reg creates a
// private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycles_total",
			Help:      "Total number of dispatch cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Time spent listing and claiming due schedules per cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		DueSchedules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_schedules",
			Help:      "Number of due schedules seen by the last cycle.",
		}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by outcome.",
		}, []string{"outcome"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch attempts by report type and status.",
		}, []string{"report_type", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Report execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1h
		}, []string{"report_type", "format"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Failure handling decisions by action.",
		}, []string{"action"}),
		CommitsLostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_lost_total",
			Help:      "Results dropped because the claim was no longer held.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatches_in_flight",
			Help:      "Number of report executions currently running.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_breaker_state",
			Help:      "Executor circuit breaker state (0 = closed, 1 = half-open, 2 = open).",
		}, []string{"name"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.DueSchedules,
		m.ClaimsTotal,
		m.DispatchesTotal,
		m.DispatchDuration,
		m.RetriesTotal,
		m.CommitsLostTotal,
		m.InFlight,
		m.BreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}

	return m
}

// Handler returns the Prometheus HTTP handler for the registry m was created
// on, or the default handler when that registry cannot be gathered.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle records one dispatch cycle.
func (m *Metrics) RecordCycle(due int, seconds float64) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.DueSchedules.Set(float64(due))
	m.CycleDuration.Observe(seconds)
}

// RecordClaim records a claim attempt outcome.
func (m *Metrics) RecordClaim(outcome string) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatch records a finished report execution.
func (m *Metrics) RecordDispatch(reportType, format, status string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(reportType, status).Inc()
	m.DispatchDuration.WithLabelValues(reportType, format).Observe(seconds)
}

// RecordRetry records a failure handling decision (retry, hold, abandon).
func (m *Metrics) RecordRetry(action string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(action).Inc()
}

// RecordCommitLost records a dropped result.
func (m *Metrics) RecordCommitLost() {
	if m == nil {
		return
	}
	m.CommitsLostTotal.Inc()
}

// AddInFlight adjusts the in-flight gauge.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

// SetBreakerState records the executor circuit breaker state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
