// Package metrics holds the Prometheus collectors of the support service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "support"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	aiGenerations *prometheus.CounterVec
	notifications *prometheus.CounterVec
	upvoteToggles *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		// Labels: method, route (gin full path), status
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled",
		}, []string{"method", "route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		// Labels: purpose (chat, suggestion_analysis), result (ok, error, empty, disabled)
		aiGenerations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_generations_total",
			Help:      "Text generation calls by purpose and result",
		}, []string{"purpose", "result"}),

		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications written to inboxes",
		}, []string{"type"}),

		// Labels: result (added, removed, error)
		upvoteToggles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upvote_toggles_total",
			Help:      "Upvote toggles by outcome",
		}, []string{"result"}),
	}
}

func (m *Metrics) AIGeneration(purpose, result string) {
	if m == nil {
		return
	}
	m.aiGenerations.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) NotificationsCreated(typ string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notifications.WithLabelValues(typ).Add(float64(n))
}

func (m *Metrics) UpvoteToggle(result string) {
	if m == nil {
		return
	}
	m.upvoteToggles.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
