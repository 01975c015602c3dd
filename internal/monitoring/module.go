package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options control monitoring module configuration.
type Options struct {
	// Gatherer serves the metrics endpoint. Defaults to the process-wide registry the
	// flowcache collectors register with.
	Gatherer prometheus.Gatherer
}

// Module bundles the metrics endpoint, health probes and sweep history.
type Module struct {
	gatherer prometheus.Gatherer
	health   *HealthManager
	sweeps   *SweepTracker
}

// NewModule constructs a monitoring module.
func NewModule(opts Options) *Module {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Module{
		gatherer: gatherer,
		health:   NewHealthManager(),
		sweeps:   NewSweepTracker(),
	}
}

// Handler returns an http.Handler serving Prometheus metrics for this module.
func (m *Module) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Health exposes the health manager responsible for liveness and readiness probes.
func (m *Module) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

// Sweeps exposes the sweep history tracker.
func (m *Module) Sweeps() *SweepTracker {
	if m == nil {
		return nil
	}
	return m.sweeps
}
