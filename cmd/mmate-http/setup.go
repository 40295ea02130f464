package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-http/config"
	"github.com/glimte/mmate-http/health"
	"github.com/glimte/mmate-http/internal/tracing"
	"github.com/glimte/mmate-http/journal"
	"github.com/glimte/mmate-http/metrics"
)

// runtime holds what every command needs after loading the config
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	tracer    trace.Tracer
	health    *health.Registry
	journal   *journal.Journal
	shutdown  []func(context.Context) error
}

func setup(ctx context.Context, g *globals, stderr io.Writer) (*runtime, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  newLogger(cfg.Log, stderr),
		health:  health.NewRegistry(),
		journal: journal.New(),
	}
	rt.health.SetMetadata("version", version)
	rt.health.Register(health.NewRuntimeChecker(5000, 20000))
	slog.SetDefault(rt.logger)

	tracer, shutdown, err := tracing.Initialize(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.tracer = tracer
	rt.shutdown = append(rt.shutdown, shutdown)

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		rt.collector = metrics.NewCollector(reg)
		rt.serveOps(reg)
	}

	return rt, nil
}

// serveOps exposes metrics, health and the request journal on the metrics address
func (rt *runtime) serveOps(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(rt.cfg.Metrics.Path, metrics.Handler(reg))
	mux.Handle("/healthz", health.NewHandler(rt.health, 5*time.Second))
	mux.Handle("/readyz", health.ReadinessHandler(rt.health))
	mux.Handle("/livez", health.LivenessHandler())
	mux.Handle("/debug/journal", journal.Handler(rt.journal))

	srv := &http.Server{
		Addr:              rt.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		rt.logger.Info("serving metrics and health", "address", srv.Addr, "path", rt.cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()

	rt.shutdown = append(rt.shutdown, srv.Shutdown)
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(rt.shutdown) - 1; i >= 0; i-- {
		if err := rt.shutdown[i](ctx); err != nil {
			rt.logger.Warn("shutdown failed", "error", err)
		}
	}
}

func (rt *runtime) deps() config.Deps {
	deps := config.Deps{Logger: rt.logger, Tracer: rt.tracer, Journal: rt.journal}
	if rt.collector != nil {
		deps.Metrics = rt.collector
		deps.CircuitListener = rt.collector
	}
	return deps
}

// newLogger writes JSON when configured, and colored text when w is a terminal
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    !isTerminal(w),
		TimeFormat: "2006-01-02 15:04:05.000",
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
