package app

import (
	"strings"
	"time"

	"github.com/charlesng35/flowcache/internal/app/maintenance"
	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/internal/database"
	"github.com/charlesng35/flowcache/internal/services"
	"github.com/charlesng35/flowcache/internal/upstream"
	"github.com/charlesng35/flowcache/pkg/compress"
)

// ConnectionConfig converts the application database configuration into the database package representation.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	dbCfg := database.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:        strings.TrimSpace(c.Path),
		DSN:         strings.TrimSpace(c.DSN),
		BusyTimeout: c.BusyTimeout,
	}

	switch dbCfg.Driver {
	case "", "sqlite", "sqlite3":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		applyAuth(&dbCfg, c.Postgres)
	case "mysql":
		applyAuth(&dbCfg, c.MySQL)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func applyAuth(dbCfg *database.Config, auth DBAuthConfig) {
	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = strings.TrimSpace(auth.Password)
}

// CacheOptions builds the cache options for the configured codec, TTL policy and task timeout.
func (c *Config) CacheOptions() ([]cache.Option, error) {
	codec, err := compress.Parse(c.Cache.Compression)
	if err != nil {
		return nil, err
	}

	opts := []cache.Option{
		cache.WithPolicy(c.TTL),
		cache.WithCompressor(codec),
		cache.WithTouchOnRead(c.Cache.TouchOnRead),
	}
	if c.Cache.TaskTimeout > 0 {
		opts = append(opts, cache.WithTaskTimeout(c.Cache.TaskTimeout))
	}
	return opts, nil
}

// Probe returns the connectivity probe for the configured upstream. Without a probe URL the
// daemon assumes it is online and lets fetch failures drive the fallback.
func (c UpstreamConfig) Probe() services.ConnectivityProbe {
	url := strings.TrimSpace(c.ProbeURL)
	if url == "" {
		return upstream.NewStaticProbe(true)
	}
	return &upstream.HTTPProbe{URL: url, Timeout: c.ProbeTimeout}
}

// ServiceOptions converts the orchestrator settings into service options.
func (c *Config) ServiceOptions() []services.Option {
	opts := []services.Option{
		services.WithPolicy(c.TTL),
		services.WithCoalescing(c.Upstream.Coalesce),
	}
	if c.Upstream.FetchTimeout > 0 {
		opts = append(opts, services.WithFetchTimeout(c.Upstream.FetchTimeout))
	}
	if c.Upstream.PrefetchConcurrency > 0 {
		opts = append(opts, services.WithPrefetchConcurrency(c.Upstream.PrefetchConcurrency))
	}
	return opts
}

// SweeperOptions converts the maintenance settings into sweeper options.
func (c MaintenanceConfig) SweeperOptions() []maintenance.Option {
	opts := []maintenance.Option{
		maintenance.WithSchedule(c.Schedule),
		maintenance.WithSweepOnStart(c.SweepOnStart),
	}
	if c.Timeout > 0 {
		opts = append(opts, maintenance.WithTimeout(c.Timeout))
	}
	return opts
}

// PrefetchLimit returns the request budget and window for the prefetch endpoint.
func (c ServerConfig) PrefetchLimit() (int, time.Duration) {
	window := c.Prefetch.Window
	if window <= 0 {
		window = time.Minute
	}
	return c.Prefetch.Requests, window
}
