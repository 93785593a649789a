package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Methods are safe on a nil receiver so
// components can run without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Review lifecycle metrics
	ReviewsSubmitted  *prometheus.CounterVec
	ModerationActions *prometheus.CounterVec

	// Anti-abuse metrics
	RateLimitHits     *prometheus.CounterVec
	DuplicateRejected prometheus.Counter

	// Upstream metrics
	RegistryLookups *prometheus.CounterVec

	// Session metrics
	ActiveSessions prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every metric with reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qreview_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qreview_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ReviewsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qreview_reviews_submitted_total",
				Help: "Reviews accepted into the pending queue",
			},
			[]string{"company_verified", "linkedin_verified"},
		),
		ModerationActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qreview_moderation_actions_total",
				Help: "Reviews affected by moderation transitions",
			},
			[]string{"action"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qreview_rate_limit_hits_total",
				Help: "Requests rejected by a rate limit budget",
			},
			[]string{"budget"},
		),
		DuplicateRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "qreview_duplicate_submissions_total",
				Help: "Submissions rejected by the 24h duplicate window",
			},
		),
		RegistryLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qreview_registry_lookups_total",
				Help: "Business registry lookups by outcome",
			},
			[]string{"result"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "qreview_admin_sessions_active",
				Help: "Unexpired admin sessions held in memory",
			},
		),
		gatherer: reg,
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ReviewSubmitted(companyVerified, linkedinVerified bool) {
	if m == nil {
		return
	}
	m.ReviewsSubmitted.WithLabelValues(strconv.FormatBool(companyVerified), strconv.FormatBool(linkedinVerified)).Inc()
}

func (m *Metrics) Moderation(action string, affected int64) {
	if m == nil || affected <= 0 {
		return
	}
	m.ModerationActions.WithLabelValues(action).Add(float64(affected))
}

func (m *Metrics) RateLimited(budget string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(budget).Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.DuplicateRejected.Inc()
}

// RegistryLookup records "verified", "not_found" or "unavailable".
func (m *Metrics) RegistryLookup(result string) {
	if m == nil {
		return
	}
	m.RegistryLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
