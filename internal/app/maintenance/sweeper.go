package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/pkg/logger"
	"github.com/charlesng35/flowcache/pkg/metrics"
)

const (
	defaultSweepSpec    = "@hourly"
	defaultSweepTimeout = 5 * time.Minute
)

// Purger is the part of the cache the sweeper drives.
type Purger interface {
	PurgeExpired(ctx context.Context) (cache.PurgeStats, error)
	Usage(ctx context.Context) (cache.Usage, error)
}

// Recorder receives the outcome of every sweep.
type Recorder interface {
	RecordSweep(deleted int64, duration time.Duration, err error)
}

// Sweeper periodically purges expired cache data and refreshes size accounting.
type Sweeper struct {
	cache    Purger
	cron     *cron.Cron
	log      *zap.Logger
	timeout  time.Duration
	recorder Recorder

	schedule     string
	sweepOnStart bool
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for the TTL sweep.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithSweepOnStart runs one sweep in the background as soon as Start is called.
func WithSweepOnStart(enabled bool) Option {
	return func(s *Sweeper) {
		s.sweepOnStart = enabled
	}
}

// WithTimeout bounds each scheduled sweep.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRecorder reports each sweep outcome to r.
func WithRecorder(r Recorder) Option {
	return func(s *Sweeper) {
		s.recorder = r
	}
}

// NewSweeper constructs a Sweeper. A nil cache disables scheduling.
func NewSweeper(c Purger, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		cache:    c,
		schedule: defaultSweepSpec,
		timeout:  defaultSweepTimeout,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}

	return sweeper
}

// Start registers the sweep job and launches the scheduler.
func (s *Sweeper) Start() error {
	if s.cache == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.scheduledRun); err != nil {
		return err
	}

	if s.sweepOnStart {
		go s.scheduledRun()
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running sweep to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

func (s *Sweeper) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("cache sweep failed", zap.Error(err))
	}
}

// RunOnce purges expired data, then refreshes the cache size gauge. Errors from both steps
// are aggregated.
func (s *Sweeper) RunOnce(ctx context.Context) (cache.PurgeStats, error) {
	if s.cache == nil {
		return cache.PurgeStats{}, errors.New("sweeper: cache is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	started := time.Now()
	stats, err := s.cache.PurgeExpired(ctx)
	errs = multierr.Append(errs, err)

	metrics.SweepDeleted.WithLabelValues("value").Add(float64(stats.Values))
	metrics.SweepDeleted.WithLabelValues("file").Add(float64(stats.Files))
	metrics.SweepDeleted.WithLabelValues("forecast").Add(float64(stats.Forecasts))
	metrics.SweepDeleted.WithLabelValues("return_period").Add(float64(stats.ReturnPeriods))
	metrics.SweepDeleted.WithLabelValues("orphan_file").Add(float64(stats.OrphanFiles))

	usage, err := s.cache.Usage(ctx)
	if err == nil {
		metrics.CacheBytes.Set(float64(usage.TotalBytes))
	}
	errs = multierr.Append(errs, err)

	took := time.Since(started)
	if s.recorder != nil {
		s.recorder.RecordSweep(stats.Total(), took, errs)
	}

	s.log.Info("cache sweep complete",
		zap.Int64("values", stats.Values),
		zap.Int64("files", stats.Files),
		zap.Int64("forecasts", stats.Forecasts),
		zap.Int64("return_periods", stats.ReturnPeriods),
		zap.Int64("orphan_files", stats.OrphanFiles),
		zap.Int64("total_bytes", usage.TotalBytes),
		zap.Duration("took", took),
	)

	return stats, errs
}
