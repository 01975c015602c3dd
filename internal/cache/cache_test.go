package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/database/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	c, err := New(db, t.TempDir(), append([]Option{WithNow(clock.Now)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})

	return c, clock
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}

func TestNewValidatesArguments(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	_, err := New(nil, t.TempDir())
	require.Error(t, err)

	_, err = New(db, "  ")
	require.Error(t, err)
}

func TestTaskGroupRejectsAfterClose(t *testing.T) {
	c, _ := newTestCache(t)

	ran := make(chan struct{}, 1)
	require.True(t, c.tasks.Go("probe", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	require.NoError(t, c.Close())
	require.Len(t, ran, 1)

	require.False(t, c.tasks.Go("late", func(context.Context) error { return nil }))
}
