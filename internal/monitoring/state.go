package monitoring

import (
	"strings"
	"sync/atomic"
	"time"
)

// SweepSummary is a point-in-time view of the maintenance sweep history.
type SweepSummary struct {
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	LastDeleted         int64         `json:"last_deleted"`
	TotalDeleted        int64         `json:"total_deleted"`
	TotalRuns           uint64        `json:"total_runs"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
}

// SweepTracker records sweep outcomes for health reporting. It is safe for concurrent use.
type SweepTracker struct {
	lastStatus          atomic.Value // string
	lastError           atomic.Value // string
	lastRun             atomic.Int64 // unix nano
	lastSuccess         atomic.Int64 // unix nano
	lastDuration        atomic.Int64
	lastDeleted         atomic.Int64
	totalDeleted        atomic.Int64
	totalRuns           atomic.Uint64
	consecutiveFailures atomic.Uint64

	now func() time.Time
}

// NewSweepTracker constructs an empty tracker.
func NewSweepTracker() *SweepTracker {
	return &SweepTracker{now: time.Now}
}

// RecordSweep stores the outcome of a sweep. A nil err marks the run successful.
func (t *SweepTracker) RecordSweep(deleted int64, duration time.Duration, err error) {
	if t == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}

	now := t.now().UTC()
	t.lastRun.Store(now.UnixNano())
	t.lastDuration.Store(int64(duration))
	t.lastDeleted.Store(deleted)
	t.totalDeleted.Add(deleted)
	t.totalRuns.Add(1)

	if err == nil {
		t.lastStatus.Store("success")
		t.lastError.Store("")
		t.lastSuccess.Store(now.UnixNano())
		t.consecutiveFailures.Store(0)
		return
	}

	t.lastStatus.Store("failure")
	t.lastError.Store(strings.TrimSpace(err.Error()))
	t.consecutiveFailures.Add(1)
}

// Snapshot returns the current sweep summary.
func (t *SweepTracker) Snapshot() SweepSummary {
	if t == nil {
		return SweepSummary{}
	}

	status, _ := t.lastStatus.Load().(string)
	errMsg, _ := t.lastError.Load().(string)

	return SweepSummary{
		LastStatus:          status,
		LastRunAt:           unixTime(t.lastRun.Load()),
		LastSuccessAt:       unixTime(t.lastSuccess.Load()),
		LastDuration:        time.Duration(t.lastDuration.Load()),
		LastError:           errMsg,
		LastDeleted:         t.lastDeleted.Load(),
		TotalDeleted:        t.totalDeleted.Load(),
		TotalRuns:           t.totalRuns.Load(),
		ConsecutiveFailures: t.consecutiveFailures.Load(),
	}
}

func unixTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
