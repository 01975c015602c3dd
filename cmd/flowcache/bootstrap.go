package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/api"
	"github.com/charlesng35/flowcache/internal/app"
	"github.com/charlesng35/flowcache/internal/app/maintenance"
	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/internal/database"
	"github.com/charlesng35/flowcache/internal/middleware"
	"github.com/charlesng35/flowcache/internal/monitoring"
	"github.com/charlesng35/flowcache/internal/monitoring/checks"
	"github.com/charlesng35/flowcache/internal/services"
	"github.com/charlesng35/flowcache/internal/upstream"
	"github.com/charlesng35/flowcache/pkg/logger"
)

const (
	databaseCheckTimeout = 3 * time.Second
	rateStoreSweep       = time.Minute
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Cache     *cache.Cache
	Forecasts *services.ForecastService
	Monitor   *monitoring.Module
	Sweeper   *maintenance.Sweeper
	RateStore *middleware.MemoryRateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the store, the fallback service, the sweeper and the HTTP router.
func bootstrapRuntime(_ context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Cache, err = openCache(stack.DB, cfg)
	if err != nil {
		return nil, err
	}

	client, err := upstream.NewClient(cfg.Upstream.Config)
	if err != nil {
		return nil, fmt.Errorf("initialise upstream client: %w", err)
	}
	probe := cfg.Upstream.Probe()

	stack.Forecasts, err = services.NewForecastService(stack.Cache.Forecasts, client, probe, cfg.ServiceOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise forecast service: %w", err)
	}

	stack.Monitor = monitoring.NewModule(monitoring.Options{})
	health := stack.Monitor.Health()
	health.RegisterLiveness(checks.CacheDir(stack.Cache.Dir()))
	health.RegisterReadiness(checks.Database(stack.DB, databaseCheckTimeout))
	health.RegisterReadiness(checks.Upstream(probe))

	if cfg.Maintenance.Enabled {
		sweeperOpts := append(cfg.Maintenance.SweeperOptions(), maintenance.WithRecorder(stack.Monitor.Sweeps()))
		stack.Sweeper = maintenance.NewSweeper(stack.Cache, sweeperOpts...)
		if err := stack.Sweeper.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
		health.RegisterReadiness(checks.Maintenance(stack.Monitor.Sweeps(), maintenanceMaxAge(cfg)))
	}

	stack.RateStore = middleware.NewMemoryRateStore(rateStoreSweep)

	deps := api.Deps{
		Config:    cfg,
		Cache:     stack.Cache,
		Forecasts: stack.Forecasts,
		Monitor:   stack.Monitor,
		RateStore: stack.RateStore,
	}
	if stack.Sweeper != nil {
		deps.Sweeper = stack.Sweeper
	}

	stack.Router, err = api.NewRouter(deps)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sweeper != nil {
		stopCtx := s.Sweeper.Stop()
		if stopCtx != nil {
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
		}
	}

	if s.RateStore != nil {
		s.RateStore.Close()
	}

	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			log.Warn("cache shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.OpenAndMigrate(dbCfg)
	if err != nil {
		return nil, err
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func openCache(db *gorm.DB, cfg *app.Config) (*cache.Cache, error) {
	opts, err := cfg.CacheOptions()
	if err != nil {
		return nil, fmt.Errorf("cache options: %w", err)
	}
	c, err := cache.New(db, cfg.Cache.Dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return c, nil
}

// maintenanceMaxAge tolerates two missed runs of the configured schedule before the sweeper
// reports degraded. Zero selects the check's own default.
func maintenanceMaxAge(cfg *app.Config) time.Duration {
	schedule, err := cron.ParseStandard(cfg.Maintenance.Schedule)
	if err != nil {
		return 0
	}
	first := schedule.Next(time.Now())
	return 3 * schedule.Next(first).Sub(first)
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
