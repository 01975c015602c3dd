package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
)

const defaultCacheDirName = "files"

// ApplyRuntimeDefaults fills values that depend on other settings and were not configured.
// It returns a map describing which keys were derived so callers can log the event.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	derived := make(map[string]bool)

	if strings.TrimSpace(cfg.Cache.Dir) == "" {
		base := "./data"
		if path := strings.TrimSpace(cfg.Database.Path); path != "" && isSQLite(cfg.Database.Driver) {
			base = filepath.Dir(path)
		}
		cfg.Cache.Dir = filepath.Join(base, defaultCacheDirName)
		derived["cache.dir"] = true
	}

	if cfg.TTL != cfg.TTL.WithDefaults() {
		cfg.TTL = cfg.TTL.WithDefaults()
		derived["ttl"] = true
	}

	if strings.TrimSpace(cfg.Maintenance.Schedule) == "" {
		cfg.Maintenance.Schedule = "@hourly"
		derived["maintenance.schedule"] = true
	}
	if _, err := cron.ParseStandard(cfg.Maintenance.Schedule); err != nil {
		return nil, fmt.Errorf("maintenance.schedule: %w", err)
	}

	return derived, nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return true
	default:
		return false
	}
}
