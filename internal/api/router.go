package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/flowcache/internal/app"
	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/internal/handlers"
	"github.com/charlesng35/flowcache/internal/middleware"
	"github.com/charlesng35/flowcache/internal/monitoring"
	"github.com/charlesng35/flowcache/internal/services"
)

// Deps bundles the long-lived services the router exposes.
type Deps struct {
	Config    *app.Config
	Cache     *cache.Cache
	Forecasts *services.ForecastService
	Sweeper   handlers.SweepRunner
	Monitor   *monitoring.Module
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers the loopback API routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, errors.New("config must be provided")
	}
	if deps.Cache == nil {
		return nil, errors.New("cache must be provided")
	}
	if deps.Forecasts == nil {
		return nil, errors.New("forecast service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	registerHealthRoutes(r, deps.Config, deps.Monitor)

	if deps.Config.Monitoring.Prometheus.Enabled && deps.Monitor != nil {
		endpoint := strings.TrimSpace(deps.Config.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(deps.Monitor.Handler()))
	}

	api := r.Group("/api")

	requests, window := deps.Config.Server.PrefetchLimit()
	registerReachRoutes(api, handlers.NewForecastHandler(deps.Forecasts), middleware.RateLimit(deps.RateStore, requests, window))
	registerCacheRoutes(api, handlers.NewCacheHandler(deps.Cache, deps.Sweeper))
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitor, deps.Config))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
