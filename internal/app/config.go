package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/internal/upstream"
	"github.com/charlesng35/flowcache/pkg/validator"
)

// Config represents the runtime configuration for the flowcache daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	TTL         policy.Policy     `mapstructure:"ttl"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address  string          `mapstructure:"address"`
	Port     int             `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel string          `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Prefetch RateLimitConfig `mapstructure:"prefetch_rate_limit"`
}

// RateLimitConfig bounds how often expensive endpoints may be called.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"min=0"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver" validate:"omitempty,oneof=sqlite sqlite3 postgres postgresql mysql"`
	Path        string        `mapstructure:"path"`
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	Postgres    DBAuthConfig  `mapstructure:"postgres"`
	MySQL       DBAuthConfig  `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes the file cache and background task behaviour.
type CacheConfig struct {
	Dir         string        `mapstructure:"dir"`
	Compression string        `mapstructure:"compression" validate:"omitempty,oneof=none s2 zstd"`
	TouchOnRead bool          `mapstructure:"touch_on_read"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// UpstreamConfig configures the hydrological API client and the fallback orchestrator.
type UpstreamConfig struct {
	upstream.Config `mapstructure:",squash"`

	ProbeURL            string        `mapstructure:"probe_url"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	Coalesce            bool          `mapstructure:"coalesce"`
	PrefetchConcurrency int           `mapstructure:"prefetch_concurrency" validate:"min=0"`
}

// MaintenanceConfig schedules the expiry sweep.
type MaintenanceConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Schedule     string        `mapstructure:"schedule"`
	SweepOnStart bool          `mapstructure:"sweep_on_start"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("FLOWCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.ValidateStruct(&config); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8470)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.prefetch_rate_limit.requests", 6)
	v.SetDefault("server.prefetch_rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/flowcache.sqlite")
	v.SetDefault("database.busy_timeout", "5s")

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.compression", "none")
	v.SetDefault("cache.touch_on_read", true)
	v.SetDefault("cache.task_timeout", "5s")

	def := policy.DefaultPolicy()
	v.SetDefault("ttl.short_range", def.ShortRange)
	v.SetDefault("ttl.medium_range", def.MediumRange)
	v.SetDefault("ttl.long_range", def.LongRange)
	v.SetDefault("ttl.return_period", def.ReturnPeriod)
	v.SetDefault("ttl.value", def.Value)
	v.SetDefault("ttl.file", def.File)
	v.SetDefault("ttl.forecast_retention", def.ForecastRetention)
	v.SetDefault("ttl.return_period_eviction", def.ReturnPeriodEviction)
	v.SetDefault("ttl.return_period_advisory", def.ReturnPeriodAdvisory)

	v.SetDefault("upstream.forecast_url", "")
	v.SetDefault("upstream.return_period_url", "")
	v.SetDefault("upstream.return_period_unit", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.api_key_header", "X-Api-Key")
	v.SetDefault("upstream.request_delay", "0s")
	v.SetDefault("upstream.probe_url", "")
	v.SetDefault("upstream.probe_timeout", "3s")
	v.SetDefault("upstream.fetch_timeout", "30s")
	v.SetDefault("upstream.coalesce", true)
	v.SetDefault("upstream.prefetch_concurrency", 4)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@hourly")
	v.SetDefault("maintenance.sweep_on_start", true)
	v.SetDefault("maintenance.timeout", "5m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
