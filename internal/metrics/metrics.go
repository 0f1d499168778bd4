package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Engine metrics
	sessionsActive     prometheus.Gauge
	sessionsTotal      *prometheus.CounterVec
	candlesProcessed   prometheus.Counter
	decisionsTotal     *prometheus.CounterVec
	decisionDuration   prometheus.Histogram
	tradesTotal        *prometheus.CounterVec
	checkpointFailures prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Engine metrics
	r.sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradesim_sessions_active",
			Help: "Number of sessions currently running or paused",
		},
	)
	r.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_sessions_total",
			Help: "Total number of sessions by terminal state",
		},
		[]string{"state"},
	)
	r.candlesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradesim_candles_processed_total",
			Help: "Total number of candles processed across all sessions",
		},
	)
	r.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_decisions_total",
			Help: "Total number of decision gateway invocations",
		},
		[]string{"outcome"},
	)
	r.decisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradesim_decision_duration_seconds",
			Help:    "Decision maker call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_trades_total",
			Help: "Total number of closed trades by exit reason",
		},
		[]string{"reason"},
	)
	r.checkpointFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradesim_checkpoint_failures_total",
			Help: "Total number of failed session checkpoint writes",
		},
	)

	reg.MustRegister(r.sessionsActive)
	reg.MustRegister(r.sessionsTotal)
	reg.MustRegister(r.candlesProcessed)
	reg.MustRegister(r.decisionsTotal)
	reg.MustRegister(r.decisionDuration)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.checkpointFailures)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// SessionStarted records a session entering the running state.
func (r *Registry) SessionStarted() {
	r.sessionsActive.Inc()
}

// SessionFinished records a session reaching a terminal state.
func (r *Registry) SessionFinished(state string) {
	r.sessionsActive.Dec()
	r.sessionsTotal.WithLabelValues(state).Inc()
}

// RecordCandle records one processed candle.
func (r *Registry) RecordCandle() {
	r.candlesProcessed.Inc()
}

// RecordDecision records a decision gateway invocation. Outcome is "ok" or
// "fallback" for degraded HOLD decisions.
func (r *Registry) RecordDecision(outcome string, duration float64) {
	r.decisionsTotal.WithLabelValues(outcome).Inc()
	r.decisionDuration.Observe(duration)
}

// RecordTrade records a closed trade.
func (r *Registry) RecordTrade(reason string) {
	r.tradesTotal.WithLabelValues(reason).Inc()
}

// RecordCheckpointFailure records a failed checkpoint write.
func (r *Registry) RecordCheckpointFailure() {
	r.checkpointFailures.Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
