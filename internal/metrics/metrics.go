// Package metrics exposes the checker's Prometheus metrics on a private
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/apipulse/internal/domain"
)

const namespace = "apipulse"

// Execution paths for probe metrics.
const (
	PathInline   = "inline"
	PathOffload  = "offload"
	PathDetailed = "detailed"
)

// latency buckets in milliseconds, centred on the 1200ms degraded threshold
var latencyBuckets = []float64{25, 50, 100, 250, 500, 800, 1200, 2000, 5000, 15000}

type Metrics struct {
	registry *prometheus.Registry

	probes         *prometheus.CounterVec
	probeLatency   prometheus.Histogram
	sweepDuration  prometheus.Histogram
	sweepTargets   prometheus.Gauge
	sweeps         prometheus.Counter
	fallbacks      prometheus.Counter
	staleReplies   prometheus.Counter
	resolveSkipped prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	return &Metrics{
		registry: reg,
		probes: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Probes by resulting status and execution path",
		}, []string{"status", "path"}),
		probeLatency: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_milliseconds",
			Help:      "Probe latency in milliseconds",
			Buckets:   latencyBuckets,
		}),
		sweepDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a full sweep",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepTargets: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_targets",
			Help:      "Targets probed by the last sweep",
		}),
		sweeps: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweeps",
		}),
		fallbacks: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offload_fallbacks_total",
			Help:      "Times the background worker was unavailable and probing ran inline",
		}),
		staleReplies: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offload_stale_replies_total",
			Help:      "Worker replies dropped because no request was waiting for their id",
		}),
		resolveSkipped: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_skipped_total",
			Help:      "Endpoint entries skipped during resolution",
		}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route, method and status code",
		}, []string{"route", "method", "status_code"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) ObserveProbe(path string, r domain.ProbeResult) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(string(r.Status), path).Inc()
	m.probeLatency.Observe(float64(r.LatencyMS))
}

func (m *Metrics) ObserveSweep(d time.Duration, targets int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(d.Seconds())
	m.sweepTargets.Set(float64(targets))
}

func (m *Metrics) OffloadFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) StaleReply() {
	if m == nil {
		return
	}
	m.staleReplies.Inc()
}

func (m *Metrics) ResolveSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.resolveSkipped.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the exposition format for this registry only.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
