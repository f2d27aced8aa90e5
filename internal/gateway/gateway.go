// Package gateway is the HTTP surface of the service: export routes,
// health, and the admin version-switch route. It owns request parsing,
// validation, rate limiting, cancellation handling, and response shaping;
// rendering itself is delegated to the pipeline and pool packages.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/onyxcharts/export-service/internal/assetcache"
	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/middleware"
	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/pipeline"
	"github.com/onyxcharts/export-service/internal/svcmetrics"
)

// Acquirer is the subset of *pool.Pool the gateway depends on, so tests
// can substitute a fake pool without constructing renderer pages.
type Acquirer interface {
	Acquire(ctx context.Context) (*pagefactory.Resource, error)
	Release(r *pagefactory.Resource)
}

// Gateway wires the HTTP routes to the pool and pipeline.
type Gateway struct {
	cfg      *config.Config
	pool     Acquirer
	pipeline *pipeline.Pipeline
	cache    *assetcache.Cache
	stats    *svcmetrics.PoolStats
	metrics  *svcmetrics.Registry
	logger   *slog.Logger
	validate *validator.Validate

	startedAt time.Time
}

// New constructs a Gateway. cache and stats back the health route;
// pool/pipeline back the export routes.
func New(cfg *config.Config, pool Acquirer, pl *pipeline.Pipeline, cache *assetcache.Cache, stats *svcmetrics.PoolStats, metrics *svcmetrics.Registry, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:       cfg,
		pool:      pool,
		pipeline:  pl,
		cache:     cache,
		stats:     stats,
		metrics:   metrics,
		logger:    logger,
		validate:  validator.New(),
		startedAt: time.Now(),
	}
}

// Router builds the full route table plus the middleware chain
// (request ID, logging, recovery, rate limiting, security headers).
func (g *Gateway) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/change-hc-version/{newVersion}", g.handleChangeVersion).Methods(http.MethodPost)
	r.HandleFunc("/{filename}", g.handleExport).Methods(http.MethodPost)
	r.HandleFunc("/", g.handleExport).Methods(http.MethodPost)

	chain := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Recovery(g.logger),
		middleware.Logging(g.logger),
		middleware.SecurityHeaders(nil),
	}
	if g.cfg.Server.RateLimiting.Enable {
		chain = append(chain, middleware.RateLimit(g.cfg.Server.RateLimiting))
	}

	return middleware.Chain(chain...)(r)
}
