// Package lifecycle owns process-wide startup and shutdown ordering:
// config -> logger -> metrics registry -> asset cache -> page factory ->
// worker pool -> gateway at boot, and the exact reverse at shutdown. It
// wires the independently-testable packages together without adding
// behavior of its own.
package lifecycle

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/onyxcharts/export-service/internal/assetcache"
	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/gateway"
	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/pipeline"
	"github.com/onyxcharts/export-service/internal/pool"
	"github.com/onyxcharts/export-service/internal/renderer"
	"github.com/onyxcharts/export-service/internal/renderer/chromeengine"
	"github.com/onyxcharts/export-service/internal/svcmetrics"
	"github.com/onyxcharts/export-service/internal/telemetry"
)

// App bundles every long-lived component the service starts and stops.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	engine  *chromeengine.Engine
	cache   *assetcache.Cache
	factory *pagefactory.Factory
	pool    *pool.Pool
	stats   *svcmetrics.PoolStats
	metrics *svcmetrics.Registry
	gateway *gateway.Gateway
	server  *http.Server
	telem   *telemetry.Client
}

// Boot performs the full init sequence. On any failure it unwinds
// whatever was already started before returning the error.
func Boot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	app.metrics = svcmetrics.Default()
	app.cache = assetcache.New()
	if err := app.cache.Ensure(ctx, cfg.Highcharts); err != nil {
		return nil, err
	}

	engine, err := chromeengine.Launch(ctx, chromeengine.Options{
		Headless:     cfg.Debug.Headless,
		WindowWidth:  cfg.Export.DefaultWidth,
		WindowHeight: cfg.Export.DefaultHeight,
	})
	if err != nil {
		return nil, err
	}
	app.engine = engine

	app.factory = pagefactory.New(engine, app.cache, cfg, logger)
	app.stats = svcmetrics.NewPoolStats(app.metrics)

	app.pool = pool.New(cfg.Pool, app.factory, logger, app.metrics)
	app.pool.Start(ctx)

	pl := pipeline.New(cfg)
	app.gateway = gateway.New(cfg, app.pool, pl, app.cache, app.stats, app.metrics, logger)

	app.server = &http.Server{
		Addr:    cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler: app.gateway.Router(),
	}

	return app, nil
}

// Serve starts the HTTP listener in a goroutine and the moving-average
// ticker, returning immediately. Errors from the listener after startup
// are logged, not returned: the server keeps running on a per-request
// basis regardless of a single render failure.
func (a *App) Serve() {
	go func() {
		a.logger.Info("gateway listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("gateway listener stopped unexpectedly", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			a.stats.Tick()
		}
	}()

	if a.telem != nil {
		go a.telem.Run(context.Background())
	}
}

// WaitForSignal blocks until SIGINT/SIGTERM, then runs Shutdown with a
// 30-second deadline.
func (a *App) WaitForSignal() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	a.logger.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown tears down components in the reverse of Boot's order: stop
// accepting connections, drain the pool, then close the renderer engine.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.pool.Drain(ctx); err != nil {
		a.logger.Error("pool drain error", "error", err)
	}

	if err := a.engine.Close(ctx); err != nil {
		a.logger.Error("renderer engine close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// EnableTelemetry wires an outbound telemetry client into Serve. cmd/server
// calls it before Serve; a cfg with Enable false makes the client's Run
// return at once.
func (a *App) EnableTelemetry(cfg telemetry.Config) {
	a.telem = telemetry.New(cfg, a.stats, a.pool, a.logger)
}

var _ renderer.Engine = (*chromeengine.Engine)(nil)
