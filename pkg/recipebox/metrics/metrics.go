// Package metrics holds the Prometheus collectors for the server.
//
// All collectors are registered on an explicit registry. A nil *Metrics is
// valid and records nothing, which keeps services usable in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recipebox"

type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	recipesCreated    prometheus.Counter
	attributesCreated *prometheus.CounterVec
	rateLimitRejects  prometheus.Counter
	mediaSwept        prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		recipesCreated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_created_total",
				Help:      "Total number of recipes created",
			},
		),
		attributesCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attributes_created_total",
				Help:      "Tags and ingredients created by get-or-create",
			},
			[]string{"kind"},
		),
		rateLimitRejects: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejects_total",
				Help:      "Total number of requests rejected due to rate limiting",
			},
		),
		mediaSwept: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_swept_total",
				Help:      "Unreferenced media files removed by the sweeper",
			},
		),
	}
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}

// Middleware records request rate, errors and duration. Paths are the
// matched route template so ids do not explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RecipeCreated() {
	if m != nil {
		m.recipesCreated.Inc()
	}
}

// AttributeCreated counts n new rows of kind ("tag" or "ingredient").
func (m *Metrics) AttributeCreated(kind string, n int) {
	if m != nil && n > 0 {
		m.attributesCreated.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) RateLimitRejected() {
	if m != nil {
		m.rateLimitRejects.Inc()
	}
}

func (m *Metrics) MediaSwept(n int) {
	if m != nil && n > 0 {
		m.mediaSwept.Add(float64(n))
	}
}
