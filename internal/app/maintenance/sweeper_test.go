package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/charlesng35/flowcache/internal/cache"
	dbtestutil "github.com/charlesng35/flowcache/internal/database/testutil"
	"github.com/charlesng35/flowcache/internal/monitoring"
	"github.com/charlesng35/flowcache/pkg/metrics"
)

type stubPurger struct {
	purges   atomic.Int32
	stats    cache.PurgeStats
	purgeErr error
	usage    cache.Usage
	usageErr error
}

func (p *stubPurger) PurgeExpired(context.Context) (cache.PurgeStats, error) {
	p.purges.Add(1)
	return p.stats, p.purgeErr
}

func (p *stubPurger) Usage(context.Context) (cache.Usage, error) {
	return p.usage, p.usageErr
}

func TestSweeperRunOnceAgainstCache(t *testing.T) {
	db := dbtestutil.MustOpenTestDB(t, dbtestutil.WithAutoMigrate())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c, err := cache.New(db, t.TempDir(), cache.WithNow(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Values.Set(ctx, "expired", []byte("x"), time.Minute, nil))
	require.NoError(t, c.Values.Set(ctx, "live", []byte("y"), 48*time.Hour, nil))
	now = now.Add(time.Hour)

	before := testutil.ToFloat64(metrics.SweepDeleted.WithLabelValues("value"))

	sweeper := NewSweeper(c)
	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Values)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.SweepDeleted.WithLabelValues("value")))
	require.Positive(t, testutil.ToFloat64(metrics.CacheBytes))

	stats, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Total())

	_, ok, err := c.Values.Get(ctx, "live")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSweeperAggregatesErrors(t *testing.T) {
	purger := &stubPurger{
		purgeErr: errors.New("purge failed"),
		usageErr: errors.New("usage failed"),
	}

	_, err := NewSweeper(purger).RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
}

func TestSweeperReportsToRecorder(t *testing.T) {
	tracker := monitoring.NewSweepTracker()
	purger := &stubPurger{stats: cache.PurgeStats{Values: 2, Files: 1}}

	sweeper := NewSweeper(purger, WithRecorder(tracker))
	_, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	purger.purgeErr = errors.New("locked")
	_, err = sweeper.RunOnce(context.Background())
	require.Error(t, err)

	summary := tracker.Snapshot()
	require.EqualValues(t, 2, summary.TotalRuns)
	require.EqualValues(t, 6, summary.TotalDeleted)
	require.EqualValues(t, 1, summary.ConsecutiveFailures)
	require.Equal(t, "locked", summary.LastError)
}

func TestSweeperRequiresCache(t *testing.T) {
	sweeper := NewSweeper(nil)
	require.NoError(t, sweeper.Start())

	_, err := sweeper.RunOnce(context.Background())
	require.Error(t, err)
}

func TestSweeperStartRejectsBadSchedule(t *testing.T) {
	sweeper := NewSweeper(&stubPurger{}, WithSchedule("every now and then"))
	require.Error(t, sweeper.Start())
}

func TestSweeperScheduledAndStartupRuns(t *testing.T) {
	purger := &stubPurger{}
	sweeper := NewSweeper(purger,
		WithCron(cron.New(cron.WithSeconds())),
		WithSchedule("* * * * * *"),
		WithSweepOnStart(true),
	)
	require.NoError(t, sweeper.Start())
	t.Cleanup(func() { <-sweeper.Stop().Done() })

	require.Eventually(t, func() bool { return purger.purges.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)
}
