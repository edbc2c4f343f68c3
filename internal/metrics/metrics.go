// Package metrics registers the Prometheus metric families for the
// Collector and Rule Loader processes, and serves /health, /ready,
// /metrics. Request instrumentation on the HTTP surface wraps the
// ResponseWriter to capture status as a side effect of the handler
// running, then logs non-2xx outcomes.
package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// responseObserver wraps http.ResponseWriter to capture the status code
// written by a handler, without intercepting the body.
type responseObserver struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (o *responseObserver) WriteHeader(code int) {
	o.ResponseWriter.WriteHeader(code)
	if o.wroteHeader {
		return
	}
	o.wroteHeader = true
	o.status = code
}

func (o *responseObserver) Write(p []byte) (int, error) {
	if !o.wroteHeader {
		o.WriteHeader(http.StatusOK)
	}
	return o.ResponseWriter.Write(p)
}

// observe wraps next so a non-2xx outcome is logged with the path and
// status, the way a degraded health/ready response should surface in
// the process's own logs rather than only in whatever scrapes /metrics.
func observe(log *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o := &responseObserver{ResponseWriter: w}
		next(o, r)
		if o.status >= http.StatusMultipleChoices {
			log.Warn("health surface degraded", "path", r.URL.Path, "status", o.status)
		}
	}
}

// Collector holds the Collector process's metric families.
type Collector struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      prometheus.Histogram
	SanitizationOps      *prometheus.CounterVec
	DeduplicationOps     *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
	BodyTruncationsTotal *prometheus.CounterVec
	log                  *slog.Logger
	ready                atomic.Bool
	queueDegraded        atomic.Bool
}

// NewCollector registers all Collector metric families on registry. log
// is used only to report a degraded /health or /ready outcome; it may
// be nil in tests that never exercise the HTTP surface.
func NewCollector(registry *prometheus.Registry, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Collector{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_requests_total",
			Help: "Total ingest RPC records processed, by outcome status.",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_request_duration_seconds",
			Help:    "Per-record pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}),
		SanitizationOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_sanitization_operations_total",
			Help: "Pattern substitutions performed, by pattern name.",
		}, []string{"pattern"}),
		DeduplicationOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_deduplication_operations_total",
			Help: "Deduplicator observations, by result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_queue_depth",
			Help: "Current depth of the in-process staging channel.",
		}),
		BodyTruncationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_body_truncations_total",
			Help: "Request/response bodies cut down to max_body_bytes at ingress, by side.",
		}, []string{"side"}),
		log: log,
	}
	registry.MustRegister(c.RequestsTotal, c.RequestDuration, c.SanitizationOps, c.DeduplicationOps, c.QueueDepth, c.BodyTruncationsTotal)
	c.ready.Store(true)
	return c
}

// SetReady flips the /ready outcome; readiness starts true. Queue push
// exhaustion is reported through SetQueueDegraded, not through SetReady.
func (c *Collector) SetReady(ready bool) { c.ready.Store(ready) }

// SetQueueDegraded marks the Queue push path as exhausted; /health
// reflects this as a 503 independent of SetReady.
func (c *Collector) SetQueueDegraded(degraded bool) { c.queueDegraded.Store(degraded) }

// Handler returns the /health, /ready, /metrics mux for this process.
func (c *Collector) Handler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observe(c.log, func(w http.ResponseWriter, r *http.Request) {
		if c.queueDegraded.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("/ready", observe(c.log, func(w http.ResponseWriter, r *http.Request) {
		if !c.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

// RuleLoader holds the Rule Loader process's metric families.
type RuleLoader struct {
	MappingsProcessed *prometheus.CounterVec
	InstallDuration   prometheus.Histogram
	Errors            *prometheus.CounterVec
	log               *slog.Logger
	ready             atomic.Bool
	queueDegraded     atomic.Bool
}

// NewRuleLoader registers all Rule Loader metric families on registry.
// log is used only to report a degraded /health or /ready outcome; it
// may be nil in tests that never exercise the HTTP surface.
func NewRuleLoader(registry *prometheus.Registry, log *slog.Logger) *RuleLoader {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &RuleLoader{
		log: log,
		MappingsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rule_loader_mappings_processed_total",
			Help: "Descriptors processed, by status.",
		}, []string{"status"}),
		InstallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rule_loader_install_duration_seconds",
			Help:    "Mock-server install call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rule_loader_errors_total",
			Help: "Install errors, by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(r.MappingsProcessed, r.InstallDuration, r.Errors)
	r.ready.Store(true)
	return r
}

// SetReady mirrors Collector.SetReady for the Rule Loader process.
func (r *RuleLoader) SetReady(ready bool) { r.ready.Store(ready) }

// SetQueueDegraded mirrors Collector.SetQueueDegraded for pop-batch exhaustion.
func (r *RuleLoader) SetQueueDegraded(degraded bool) { r.queueDegraded.Store(degraded) }

// Handler returns the /health, /ready, /metrics mux for this process.
func (r *RuleLoader) Handler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observe(r.log, func(w http.ResponseWriter, req *http.Request) {
		if r.queueDegraded.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("/ready", observe(r.log, func(w http.ResponseWriter, req *http.Request) {
		if !r.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
