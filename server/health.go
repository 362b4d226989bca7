package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aep/healthdesk/store"
)

// Global registry so it can be accessed from middleware
var promRegistry *prometheus.Registry

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	suggestCorpusCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggest_corpus_cache_total",
			Help: "Suggestion corpus lookups by result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	promRegistry = prometheus.NewRegistry()

	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())

	promRegistry.MustRegister(httpRequestsTotal)
	promRegistry.MustRegister(httpRequestDuration)
	promRegistry.MustRegister(suggestCorpusCache)
	promRegistry.MustRegister(store.Collectors()...)
}

// statsHandler serves /healthz and /metrics.
func (s *server) statsHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.kv.Ping(); err != nil {
			slog.Warn("health check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	return mux
}

// statsd runs the stats listener until it is shut down.
func (s *server) statsd(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.statsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("stats listener failed", "addr", addr, "err", err)
		}
	}()
	return srv
}

// PrometheusMiddleware records HTTP request metrics
func PrometheusMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)

		duration := time.Since(start).Seconds()
		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		method := c.Request().Method
		// route pattern such as /v1/:kind
		path := c.Path()

		httpRequestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
		httpRequestDuration.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Observe(duration)

		return err
	}
}
