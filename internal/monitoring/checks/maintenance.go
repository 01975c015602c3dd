package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/flowcache/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// Maintenance verifies that the expiry sweep runs successfully within the expected interval.
// When maxAge is zero, a default window (6h) is used. A failing sweep degrades the daemon
// but never takes it down.
func Maintenance(tracker *monitoring.SweepTracker, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		start := time.Now()
		summary := tracker.Snapshot()

		if summary.TotalRuns == 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "pending first sweep",
				Duration: time.Since(start),
			}
		}

		status := monitoring.StatusUp
		var failures []string

		if summary.ConsecutiveFailures > 0 {
			status = monitoring.StatusDegraded
			failures = append(failures, "sweep failing: "+summary.LastError)
		}
		if !summary.LastRunAt.IsZero() && time.Since(summary.LastRunAt) > maxAge {
			status = monitoring.StatusDegraded
			failures = append(failures, "stale sweep "+summary.LastRunAt.Format(time.RFC3339))
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(failures, "; "),
			Duration: time.Since(start),
		}
	})
}
