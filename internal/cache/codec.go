package cache

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/charlesng35/flowcache/pkg/metrics"
)

// decodeJSON is the single decode boundary for cached payloads.
func decodeJSON[T any](kind, key string, raw []byte) (T, *DecodeError) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, &DecodeError{Kind: kind, Key: key, Err: err}
	}
	return out, nil
}

// heal turns a decode or missing-file failure into a delete-and-miss. A failing delete is
// logged and the read still reports a miss; the row will be retried on the next read or sweep.
func (c *core) heal(ctx context.Context, kind string, cause error, remove func(context.Context) error) {
	metrics.CacheLookups.WithLabelValues(kind, "healed").Inc()
	c.log.Warn("discarding unreadable cache entry",
		zap.String("kind", kind),
		zap.Error(cause),
	)
	if err := remove(ctx); err != nil {
		c.log.Warn("failed to delete unreadable cache entry",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
