// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	linksCollectedTotal        *prometheus.CounterVec
	pagesFetchedTotal          *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	activeTasks                prometheus.Gauge
	taskQueueDepth             prometheus.Gauge
	breakerTransitionsTotal    *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		linksCollectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_links_collected_total",
				Help: "Company links collected, labeled by industry.",
			},
			[]string{"industry"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_pages_fetched_total",
				Help: "Pages fetched, labeled by phase and outcome.",
			},
			[]string{"phase", "status"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_tasks_total",
				Help: "Tasks completed, labeled by outcome.",
			},
			[]string{"status"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dircrawler_active_tasks",
				Help: "Tasks submitted but not yet completed.",
			},
		)

		taskQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dircrawler_task_queue_depth",
				Help: "Tasks waiting for a worker.",
			},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_breaker_transitions_total",
				Help: "Circuit breaker transitions, labeled by breaker and new state.",
			},
			[]string{"breaker", "state"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dircrawler_ratelimit_delay_seconds",
				Help:    "Time spent waiting on the per-domain rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLinksCollected adds to the per-industry link counter.
func ObserveLinksCollected(industry string, count int) {
	linksCollectedTotal.WithLabelValues(industry).Add(float64(count))
}

// ObservePageFetch counts one page fetch outcome for a phase.
func ObservePageFetch(phase, status string) {
	pagesFetchedTotal.WithLabelValues(phase, status).Inc()
}

// ObserveTask counts one completed task by outcome.
func ObserveTask(status string) {
	tasksTotal.WithLabelValues(status).Inc()
}

// IncActiveTasks increments the in-flight task gauge.
func IncActiveTasks() {
	activeTasks.Inc()
}

// DecActiveTasks decrements the in-flight task gauge.
func DecActiveTasks() {
	activeTasks.Dec()
}

// SetQueueDepth records the current task queue backlog.
func SetQueueDepth(depth int) {
	taskQueueDepth.Set(float64(depth))
}

// ObserveBreakerTransition counts one breaker state change.
func ObserveBreakerTransition(breaker, state string) {
	breakerTransitionsTotal.WithLabelValues(breaker, state).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a domain token.
func ObserveRateLimitDelay(domain string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(delay.Seconds())
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
