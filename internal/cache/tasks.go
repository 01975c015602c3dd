package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTaskTimeout = 5 * time.Second

// taskGroup runs best-effort bookkeeping writes off the caller's path. Failures are logged,
// never returned. Close waits for in-flight tasks and refuses new ones.
type taskGroup struct {
	log     *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newTaskGroup(log *zap.Logger, timeout time.Duration) *taskGroup {
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	return &taskGroup{log: log, timeout: timeout}
}

// Go schedules fn and reports whether it was accepted.
func (g *taskGroup) Go(name string, fn func(ctx context.Context) error) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("background cache task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			g.log.Warn("background cache task failed", zap.String("task", name), zap.Error(err))
		}
	}()
	return true
}

// Wait blocks until every accepted task has finished.
func (g *taskGroup) Wait() {
	g.wg.Wait()
}

// Close stops accepting tasks and waits for the in-flight ones.
func (g *taskGroup) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}
