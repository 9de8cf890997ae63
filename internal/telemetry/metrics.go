// Package telemetry holds the Prometheus collectors of the service. All
// collectors live in their own registry so /metrics only exposes them.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TimurManjosov/contentship/internal/rules"
)

type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	Selections         *prometheus.CounterVec
	UnknownConditions  prometheus.Counter
	ViewsDropped       prometheus.Counter
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentship_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contentship_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentship_selections_total",
			Help: "Content selections by reason",
		}, []string{"reason"}),
		UnknownConditions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentship_unknown_condition_types_total",
			Help: "Conditions evaluated with an unregistered type",
		}),
		ViewsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentship_view_events_dropped_total",
			Help: "View events discarded because the queue was full",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentship_cache_hits_total",
			Help: "Cache hits by cache",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentship_cache_misses_total",
			Help: "Cache misses by cache",
		}, []string{"cache"}),
		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentship_cache_invalidations_total",
			Help: "Definition cache invalidations from the change feed",
		}),
	}
	reg.MustRegister(
		m.HTTPRequests, m.HTTPDuration, m.Selections, m.UnknownConditions,
		m.ViewsDropped, m.CacheHits, m.CacheMisses, m.CacheInvalidations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// CountUnknownCondition is the engine's unknown type hook. Condition types
// arrive from request bodies, so the type is not used as a label.
func (m *Metrics) CountUnknownCondition(rules.ConditionType) {
	m.UnknownConditions.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// The pattern is only complete once routing has finished.
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		m.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// RegisterPool exports live pgxpool connection statistics on every scrape.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	m.Registry.MustRegister(&poolCollector{
		pool:     pool,
		acquired: prometheus.NewDesc("contentship_db_pool_acquired", "Currently acquired database connections.", nil, nil),
		idle:     prometheus.NewDesc("contentship_db_pool_idle", "Idle database connections.", nil, nil),
		total:    prometheus.NewDesc("contentship_db_pool_total", "Total database connections.", nil, nil),
		max:      prometheus.NewDesc("contentship_db_pool_max", "Maximum database connections.", nil, nil),
	})
}

type poolCollector struct {
	pool                       *pgxpool.Pool
	acquired, idle, total, max *prometheus.Desc
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(stat.MaxConns()))
}
