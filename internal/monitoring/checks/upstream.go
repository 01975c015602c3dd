package checks

import (
	"context"
	"time"

	"github.com/charlesng35/flowcache/internal/monitoring"
	"github.com/charlesng35/flowcache/internal/services"
)

// Upstream reports the connectivity probe. Being offline only degrades the daemon since
// cached and stale data are still served.
func Upstream(probe services.ConnectivityProbe) monitoring.Check {
	return monitoring.NewCheck("upstream", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if probe == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "no connectivity probe configured",
				Duration: time.Since(start),
			}
		}

		if !probe.IsOnline(ctx) {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "offline",
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
