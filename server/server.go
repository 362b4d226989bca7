// Package server exposes the record store over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/maypok86/otter"
	"go.uber.org/atomic"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/aql"
	"github.com/aep/healthdesk/bus"
	"github.com/aep/healthdesk/config"
	"github.com/aep/healthdesk/kv"
	"github.com/aep/healthdesk/list"
	"github.com/aep/healthdesk/store"
	"github.com/aep/healthdesk/suggest"
)

type server struct {
	cfg       config.Config
	kv        kv.KV
	bs        bus.Bus
	store     *store.Store
	history   suggest.Store
	provider  *suggest.Provider
	corpus    otter.Cache[string, []suggest.Candidate]
	corpusGen map[string]*atomic.Uint64 // invalidations per kind
	records   func(ctx context.Context, kind string) ([]api.Record, error)
	now       func() time.Time
}

func newServer(cfg config.Config, k kv.KV, bs bus.Bus) (*server, error) {
	validator, err := store.NewValidator(cfg.Settings)
	if err != nil {
		return nil, err
	}

	ttl := cfg.Suggest.CacheTTL.Duration
	if ttl <= 0 {
		ttl = time.Minute
	}
	cache, err := otter.MustBuilder[string, []suggest.Candidate](1000).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	gens := make(map[string]*atomic.Uint64)
	for _, kind := range api.Kinds() {
		gens[kind] = atomic.NewUint64(0)
	}

	st := store.New(k, bs, validator)
	return &server{
		cfg:     cfg,
		kv:      k,
		bs:      bs,
		store:   st,
		history: suggest.NewKVStore(k, cfg.Suggest.HistoryCap),
		provider: suggest.NewProvider(suggest.Options{
			MinQuery: cfg.Suggest.MinQuery,
			Recent:   cfg.Suggest.Recent,
			Limit:    cfg.Suggest.Limit,
		}),
		corpus:    cache,
		corpusGen: gens,
		records:   st.All,
		now:       time.Now,
	}, nil
}

func (s *server) echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Binder = &Binder{defaultBinder: &echo.DefaultBinder{}}
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(TracingMiddleware)
	e.Use(PrometheusMiddleware)

	v1 := e.Group("/v1")
	v1.GET("/q", s.handleQuery)
	v1.GET("/history", s.handleGetHistory)
	v1.POST("/history", s.handleRecordHistory)
	v1.DELETE("/history", s.handleClearHistory)
	v1.GET("/:kind", s.handleList)
	v1.POST("/:kind", s.handleCreate)
	v1.GET("/:kind/"+api.PathExport, s.handleExport)
	v1.GET("/:kind/"+api.PathSuggest, s.handleSuggest)
	v1.GET("/:kind/:id", s.handleGet)
	v1.PATCH("/:kind/:id", s.handleUpdate)
	v1.DELETE("/:kind/:id", s.handleDelete)
	return e
}

// watchCorpus drops cached suggestion corpora of kinds that changed.
func (s *server) watchCorpus(ctx context.Context) {
	events, cancel := s.bs.Subscribe(bus.AllKinds)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.invalidateCorpus(ev.Kind)
		}
	}
}

func (s *server) invalidateCorpus(kind string) {
	if g, ok := s.corpusGen[kind]; ok {
		g.Inc()
	}
	s.corpus.Delete(kind)
}

// statusOf maps collaborator errors to HTTP status codes.
func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, store.ErrNotFound), errors.Is(err, api.ErrUnknownKind):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalid),
		errors.Is(err, aql.ErrSyntax),
		errors.Is(err, kv.ErrInvalidKey),
		errors.Is(err, list.ErrInvalidSortOrder),
		errors.Is(err, list.ErrInvalidSortFormat):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

// errorHandler renders every failure as an unsuccessful MutationResult.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, api.MutationResult{Success: false, Message: msg})
	}
	if err != nil {
		slog.Warn("writing error response", "err", err)
	}
}

// tlsConfig requires client certificates signed by caPath.
func tlsConfig(caPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	return &tls.Config{
		ClientAuth: tls.RequireAndVerifyClientCert,
		ClientCAs:  pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Main runs the API and stats listeners until ctx is done.
func Main(ctx context.Context, cfg config.Config) error {
	shutdownTracer, err := initTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracer(context.Background())

	k, err := kv.Open(cfg.KV)
	if err != nil {
		return fmt.Errorf("kv: %w", err)
	}
	defer k.Close()

	bs, stopBus, err := bus.Open(cfg.Bus)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer stopBus()

	s, err := newServer(cfg, k, bs)
	if err != nil {
		return err
	}
	defer s.corpus.Close()

	go s.watchCorpus(ctx)

	stats := s.statsd(cfg.StatsAddr)
	defer stats.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.echo(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if cfg.TLS.Cert != "" {
			if cfg.TLS.CA != "" {
				tc, err := tlsConfig(cfg.TLS.CA)
				if err != nil {
					errc <- err
					return
				}
				srv.TLSConfig = tc
			}
			slog.Info("listening", "addr", cfg.Addr, "tls", true, "mtls", cfg.TLS.CA != "")
			errc <- srv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
			return
		}
		slog.Info("listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
