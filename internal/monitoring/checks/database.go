package checks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/database"
	"github.com/charlesng35/flowcache/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Database returns a readiness probe that pings the store and reports its size.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "database not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultDatabaseTimeout))
		defer cancel()

		if err := database.Ping(probeCtx, db); err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}

		result := monitoring.ProbeResult{Status: monitoring.StatusUp}
		if size, err := database.StorageSize(probeCtx, db); err == nil && size > 0 {
			result.Details = fmt.Sprintf("%d bytes", size)
		}
		result.Duration = time.Since(start)
		return result
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
