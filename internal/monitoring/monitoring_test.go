package monitoring_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dbtestutil "github.com/charlesng35/flowcache/internal/database/testutil"
	"github.com/charlesng35/flowcache/internal/monitoring"
	"github.com/charlesng35/flowcache/internal/monitoring/checks"
	"github.com/charlesng35/flowcache/internal/upstream"
)

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("cache_dir", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "permission denied"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "cache_dir", report.Checks[1].Component)
}

func TestHealthManagerDegradedStaysSuccessful(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(checks.Upstream(upstream.NewStaticProbe(false)))

	report := manager.Evaluate(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)
}

func TestHealthManagerRecoversPanics(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("boom", func(context.Context) monitoring.ProbeResult {
		panic("kaboom")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "boom", report.Checks[0].Component)
	require.Contains(t, report.Checks[0].Details, "kaboom")
}

func TestResultFromErrorDegradesOnDeadline(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError("x", nil, 0).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError("x", context.DeadlineExceeded, 0).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError("x", errors.New("boom"), 0).Status)
}

func TestSweepTrackerAndMaintenanceCheck(t *testing.T) {
	t.Parallel()

	tracker := monitoring.NewSweepTracker()
	check := checks.Maintenance(tracker, 0)
	result := check.Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	tracker.RecordSweep(3, time.Second, nil)
	tracker.RecordSweep(0, time.Second, errors.New("disk full"))

	summary := tracker.Snapshot()
	require.EqualValues(t, 2, summary.TotalRuns)
	require.EqualValues(t, 3, summary.TotalDeleted)
	require.EqualValues(t, 1, summary.ConsecutiveFailures)
	require.Equal(t, "failure", summary.LastStatus)
	require.False(t, summary.LastSuccessAt.IsZero())

	result = check.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "disk full")

	tracker.RecordSweep(1, time.Second, nil)
	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)
}

func TestDatabaseCheck(t *testing.T) {
	t.Parallel()

	db := dbtestutil.MustOpenTestDB(t, dbtestutil.WithAutoMigrate())
	result := checks.Database(db, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = checks.Database(nil, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestCacheDirCheck(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.Equal(t, monitoring.StatusUp, checks.CacheDir(dir).Run(context.Background()).Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	missing := checks.CacheDir(filepath.Join(dir, "missing")).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, missing.Status)

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	require.Equal(t, monitoring.StatusDown, checks.CacheDir(file).Run(context.Background()).Status)
}

func TestModuleHandlerServesMetrics(t *testing.T) {
	t.Parallel()

	module := monitoring.NewModule(monitoring.Options{})
	require.NotNil(t, module.Health())
	require.NotNil(t, module.Sweeps())

	rec := httptest.NewRecorder()
	module.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
