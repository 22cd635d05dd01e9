// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the HTTP surface. A nil *Metrics is valid and records nothing.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	readingsIngested   *prometheus.CounterVec
	readingsRejected   *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	alertTransitions   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	evaluationErrors   prometheus.Counter
	evalQueueDepth     prometheus.Gauge
	evalInlineFallback prometheus.Counter
	ruleCacheHits      prometheus.Counter
	ruleCacheMisses    prometheus.Counter
	safetyChecks       *prometheus.CounterVec
	devicesByStatus    *prometheus.GaugeVec
}

// New builds the collectors on a private registry, plus Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		readingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safestrip_readings_ingested_total",
			Help: "Sensor readings accepted and stored, by sensor type.",
		}, []string{"sensor_type"}),
		readingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safestrip_readings_rejected_total",
			Help: "Sensor readings rejected before storage, by error code.",
		}, []string{"code"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safestrip_rule_decisions_total",
			Help: "Rule decisions produced by the evaluator, by kind.",
		}, []string{"decision"}),
		alertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safestrip_alert_transitions_total",
			Help: "Alert lifecycle transitions, by resulting status.",
		}, []string{"status"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safestrip_evaluation_duration_seconds",
			Help:    "Time to evaluate and apply one stored reading.",
			Buckets: prometheus.DefBuckets,
		}),
		evaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safestrip_evaluation_errors_total",
			Help: "Readings whose evaluation failed after storage.",
		}),
		evalQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safestrip_eval_queue_depth",
			Help: "Readings waiting in async evaluation queues.",
		}),
		evalInlineFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safestrip_eval_inline_fallback_total",
			Help: "Readings evaluated inline because their shard queue was full.",
		}),
		ruleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safestrip_rule_cache_hits_total",
			Help: "Rule lookups served from cache.",
		}),
		ruleCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safestrip_rule_cache_misses_total",
			Help: "Rule lookups that went to storage.",
		}),
		safetyChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safestrip_safety_checks_total",
			Help: "Safety checks run, by overall status.",
		}, []string{"status"}),
		devicesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safestrip_device_status_changes",
			Help: "Devices moved to each status by the last liveness pass.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.readingsIngested,
		m.readingsRejected,
		m.decisions,
		m.alertTransitions,
		m.evaluationDuration,
		m.evaluationErrors,
		m.evalQueueDepth,
		m.evalInlineFallback,
		m.ruleCacheHits,
		m.ruleCacheMisses,
		m.safetyChecks,
		m.devicesByStatus,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over wrapped connections.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ReadingIngested(sensorType string) {
	if m == nil {
		return
	}
	m.readingsIngested.WithLabelValues(sensorType).Inc()
}

func (m *Metrics) ReadingRejected(code string) {
	if m == nil {
		return
	}
	m.readingsRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) Decision(kind string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlertTransition(status string) {
	if m == nil {
		return
	}
	m.alertTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Evaluation(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.evaluationDuration.Observe(duration.Seconds())
	if !success {
		m.evaluationErrors.Inc()
	}
}

func (m *Metrics) QueueDepth(delta float64) {
	if m == nil {
		return
	}
	m.evalQueueDepth.Add(delta)
}

func (m *Metrics) InlineFallback() {
	if m == nil {
		return
	}
	m.evalInlineFallback.Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.ruleCacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.ruleCacheMisses.Inc()
}

func (m *Metrics) SafetyCheck(status string) {
	if m == nil {
		return
	}
	m.safetyChecks.WithLabelValues(status).Inc()
}

func (m *Metrics) DeviceStatusChanges(online, offline int64) {
	if m == nil {
		return
	}
	m.devicesByStatus.WithLabelValues("online").Set(float64(online))
	m.devicesByStatus.WithLabelValues("offline").Set(float64(offline))
}
