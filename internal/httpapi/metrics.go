package httpapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the server's Prometheus collectors, registered on their
// own registry so tests can run multiple servers in one process.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	requestDur    *prometheus.HistogramVec

	queriesTotal    *prometheus.CounterVec
	queryConfidence *prometheus.CounterVec
	ingestedDocs    prometheus.Counter
	ingestedChunks  prometheus.Counter
	skippedChunks   prometheus.Counter
	liveSessions    prometheus.GaugeFunc
}

// NewMetrics creates and registers the server's collectors. sessionCount
// feeds the live-sessions gauge.
func NewMetrics(sessionCount func() int) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railadviced_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	m.requestDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railadviced_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railadviced_queries_total",
		Help: "Answered queries by classified intent.",
	}, []string{"intent"})

	m.queryConfidence = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railadviced_query_confidence_total",
		Help: "Answered queries by grounding confidence tier.",
	}, []string{"confidence"})

	m.ingestedDocs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "railadviced_documents_ingested_total",
		Help: "Documents successfully ingested.",
	})

	m.ingestedChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "railadviced_chunks_indexed_total",
		Help: "Chunks embedded and indexed.",
	})

	m.skippedChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "railadviced_chunks_skipped_total",
		Help: "Chunks the embedder could not encode.",
	})

	m.liveSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "railadviced_sessions_live",
		Help: "Currently live conversation sessions.",
	}, func() float64 { return float64(sessionCount()) })

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDur,
		m.queriesTotal,
		m.queryConfidence,
		m.ingestedDocs,
		m.ingestedChunks,
		m.skippedChunks,
		m.liveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware instruments every request with count and duration.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.requestDur.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
