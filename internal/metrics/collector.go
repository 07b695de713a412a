// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every Prometheus metric the engine exports.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Episode metrics
	episodesRecorded *prometheus.CounterVec
	episodeSaveRate  *prometheus.HistogramVec

	// Evolution metrics
	evolutionChecks     *prometheus.CounterVec
	evolutionsTriggered *prometheus.CounterVec
	candidatesCreated   prometheus.Counter
	promotions          prometheus.Counter

	// Database metrics
	dbQueryDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the engine's metrics under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.episodesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_recorded_total",
			Help:      "Total number of episodes recorded, by terminal status",
		},
		[]string{"status"},
	)

	c.episodeSaveRate = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_save_rate",
			Help:      "Per-episode save rate distribution",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
		[]string{"status"},
	)

	c.evolutionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evolution_checks_total",
			Help:      "Evolution checks run, by outcome (evolve, maintain, skipped)",
		},
		[]string{"outcome"},
	)

	c.evolutionsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evolutions_triggered_total",
			Help:      "Evolutions triggered, by policy reason",
		},
		[]string{"reason"},
	)

	c.candidatesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_created_total",
			Help:      "Candidate strategy versions created",
		},
	)

	c.promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Strategy version promotions",
		},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)

	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEpisode records a terminal episode with its save rate.
func (c *Collector) RecordEpisode(status string, saveRate float64) {
	c.episodesRecorded.WithLabelValues(status).Inc()
	c.episodeSaveRate.WithLabelValues(status).Observe(saveRate)
}

// RecordEvolutionCheck records one evolution check outcome.
func (c *Collector) RecordEvolutionCheck(outcome string) {
	c.evolutionChecks.WithLabelValues(outcome).Inc()
}

// RecordEvolutionTriggered records an evolution with its policy reason.
func (c *Collector) RecordEvolutionTriggered(reason string) {
	c.evolutionsTriggered.WithLabelValues(reason).Inc()
	c.candidatesCreated.Inc()
}

// RecordPromotion records a version promotion.
func (c *Collector) RecordPromotion() {
	c.promotions.Inc()
}

// RecordDBQuery records the duration of one store operation.
func (c *Collector) RecordDBQuery(operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
