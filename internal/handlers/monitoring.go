package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/flowcache/internal/app"
	"github.com/charlesng35/flowcache/internal/monitoring"
	"github.com/charlesng35/flowcache/pkg/response"
)

// MonitoringHandler surfaces sweep history, maintenance settings and metrics configuration.
type MonitoringHandler struct {
	module *monitoring.Module
	cfg    *app.Config
}

// NewMonitoringHandler constructs a monitoring handler. Returns nil when monitoring is disabled.
func NewMonitoringHandler(module *monitoring.Module, cfg *app.Config) *MonitoringHandler {
	if module == nil || cfg == nil {
		return nil
	}
	if !cfg.Monitoring.Health.Enabled && !cfg.Monitoring.Prometheus.Enabled {
		return nil
	}
	return &MonitoringHandler{module: module, cfg: cfg}
}

// Summary returns the sweep history, the sweep schedule and where metrics are exposed.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	endpoint := strings.TrimSpace(h.cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}

	response.Success(c, http.StatusOK, gin.H{
		"sweeps": h.module.Sweeps().Snapshot(),
		"maintenance": gin.H{
			"enabled":        h.cfg.Maintenance.Enabled,
			"schedule":       h.cfg.Maintenance.Schedule,
			"sweep_on_start": h.cfg.Maintenance.SweepOnStart,
			"timeout":        h.cfg.Maintenance.Timeout.String(),
		},
		"prometheus": gin.H{
			"enabled":  h.cfg.Monitoring.Prometheus.Enabled,
			"endpoint": endpoint,
		},
	})
}
