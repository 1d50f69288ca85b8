// Package metrics exposes Prometheus instrumentation for the scoring service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service metrics on its own registry so that multiple
// servers (and tests) never collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Assessments         prometheus.Counter
	AssessmentDuration  prometheus.Histogram
	Recommendations     *prometheus.CounterVec
	CandidatesEvaluated prometheus.Counter
}

// NewCollector creates a collector whose metric names carry the namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Assessments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regimen_assessments_total",
			Help:      "Total number of regimen risk assessments",
		}),
		AssessmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "regimen_assessment_duration_seconds",
			Help:      "Regimen assessment duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Recommendations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommendations_total",
				Help:      "Total number of recommendation searches by outcome",
			},
			[]string{"outcome"},
		),
		CandidatesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_evaluated_total",
			Help:      "Total number of alternative candidates scored",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Assessments,
		c.AssessmentDuration,
		c.Recommendations,
		c.CandidatesEvaluated,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveAssessment records one completed assessment.
func (c *Collector) ObserveAssessment(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Assessments.Inc()
	c.AssessmentDuration.Observe(elapsed.Seconds())
}

// ObserveRecommendation records a search outcome ("ok", "empty", "error")
// and how many candidates were scored.
func (c *Collector) ObserveRecommendation(outcome string, candidates int) {
	if c == nil {
		return
	}
	c.Recommendations.WithLabelValues(outcome).Inc()
	if candidates > 0 {
		c.CandidatesEvaluated.Add(float64(candidates))
	}
}

// Middleware counts and times every request by its matched route.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
