// Package metrics exposes publish pipeline counters on a dedicated
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagepush"

type Collector struct {
	registry *prometheus.Registry

	publishes           *prometheus.CounterVec
	publishDuration     *prometheus.HistogramVec
	authFailures        *prometheus.CounterVec
	idempotencyHits     prometheus.Counter
	conversionFallbacks prometheus.Counter
	warnings            *prometheus.CounterVec
	rollbacks           *prometheus.CounterVec
	scheduledRuns       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish requests by action and result.",
		}, []string{"action", "result"}),
		publishDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent in the publish pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"result"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected requests by reason.",
		}, []string{"reason"}),
		idempotencyHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_hits_total",
			Help:      "Publish requests answered from the idempotency cache.",
		}),
		conversionFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_fallbacks_total",
			Help:      "Conversions that produced a raw HTML fallback document.",
		}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_warnings_total",
			Help:      "Warnings attached to publish responses by code.",
		}, []string{"code"}),
		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollback requests by result.",
		}, []string{"result"}),
		scheduledRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_publishes_total",
			Help:      "Scheduled publish replays by result.",
		}, []string{"result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "status"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObservePublish(action, result string, elapsed time.Duration) {
	if action == "" {
		action = "none"
	}
	c.publishes.WithLabelValues(action, result).Inc()
	c.publishDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (c *Collector) AuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) IdempotencyHit() {
	c.idempotencyHits.Inc()
}

func (c *Collector) ConversionFallback() {
	c.conversionFallbacks.Inc()
}

func (c *Collector) Warning(code string) {
	c.warnings.WithLabelValues(code).Inc()
}

func (c *Collector) Rollback(result string) {
	c.rollbacks.WithLabelValues(result).Inc()
}

func (c *Collector) ScheduledRun(result string) {
	c.scheduledRuns.WithLabelValues(result).Inc()
}

func (c *Collector) HTTPRequest(method string, status int) {
	c.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
