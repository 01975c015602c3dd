package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/flowcache/internal/app"
	"github.com/charlesng35/flowcache/internal/monitoring"
)

type healthProbe struct {
	path     string
	evaluate func(*monitoring.HealthManager, context.Context) monitoring.HealthReport
}

var healthProbes = []healthProbe{
	{"/health", (*monitoring.HealthManager).Evaluate},
	{"/health/live", (*monitoring.HealthManager).EvaluateLiveness},
	{"/health/ready", (*monitoring.HealthManager).EvaluateReadiness},
}

// registerHealthRoutes mounts the probes at the root and under /api. Degraded reports (for
// example an unreachable upstream) still answer 200.
func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if cfg == nil {
		return
	}

	var manager *monitoring.HealthManager
	if cfg.Monitoring.Health.Enabled && mon != nil {
		manager = mon.Health()
	}

	for _, router := range []gin.IRouter{r, r.Group("/api")} {
		for _, probe := range healthProbes {
			handler := disabledHealthHandler
			if manager != nil {
				handler = healthHandler(manager, probe.evaluate)
			}
			router.GET(probe.path, handler)
			router.HEAD(probe.path, handler)
		}
	}
}

func healthHandler(manager *monitoring.HealthManager, evaluate func(*monitoring.HealthManager, context.Context) monitoring.HealthReport) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := evaluate(manager, c.Request.Context())
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.Header("Cache-Control", "no-store")
		if c.Request.Method == http.MethodHead {
			c.Status(status)
			return
		}
		c.JSON(status, report)
	}
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
