// Package metrics exposes the simulator's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridsim/pkg/api"
)

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	billsCreated   *prometheus.CounterVec
	housesSkipped  *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	ingestedPoints prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsim_runs_total",
			Help: "Simulation runs finished, by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridsim_run_duration_seconds",
			Help:    "Wall time of simulation runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		billsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsim_bills_created_total",
			Help: "House bills stored, by policy type.",
		}, []string{"policy"}),
		housesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsim_houses_skipped_total",
			Help: "Houses skipped during simulation, by reason.",
		}, []string{"reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_profile_cache_hits_total",
			Help: "House profile cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_profile_cache_misses_total",
			Help: "House profile cache misses.",
		}),
		ingestedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_ingested_points_total",
			Help: "Canonical series points written by meter ingestion.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsim_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridsim_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runsTotal,
		m.runDuration,
		m.billsCreated,
		m.housesSkipped,
		m.cacheHits,
		m.cacheMisses,
		m.ingestedPoints,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunFinished counts a finished run and observes its duration
func (m *Metrics) RunFinished(status api.RunStatus, d time.Duration) {
	m.runsTotal.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(d.Seconds())
}

// BillCreated counts a stored bill
func (m *Metrics) BillCreated(policy api.PolicyType) {
	m.billsCreated.WithLabelValues(string(policy)).Inc()
}

// HouseSkipped counts a skipped house
func (m *Metrics) HouseSkipped(reason string) {
	m.housesSkipped.WithLabelValues(reason).Inc()
}

// CacheHit counts a profile cache hit
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss counts a profile cache miss
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// PointsIngested counts canonical points written by ingestion
func (m *Metrics) PointsIngested(n int) {
	m.ingestedPoints.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
