// Package cache is the access layer over the persistent store. It owns the cache tables and
// the cache directory, enforces expiry on reads, and heals entries it cannot read.
package cache

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/pkg/compress"
	"github.com/charlesng35/flowcache/pkg/logger"
)

const maxKeyLength = 256

// Option customises a Cache.
type Option func(*options)

type options struct {
	now         func() time.Time
	policy      policy.Policy
	touchOnRead bool
	compressor  compress.Compressor
	log         *zap.Logger
	taskTimeout time.Duration
}

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPolicy sets the TTL policy used for default TTLs and forecast freshness.
func WithPolicy(p policy.Policy) Option {
	return func(o *options) {
		o.policy = p.WithDefaults()
	}
}

// WithTouchOnRead refreshes last_accessed_at on file reads.
func WithTouchOnRead(enabled bool) Option {
	return func(o *options) {
		o.touchOnRead = enabled
	}
}

// WithCompressor sets the codec applied to new file blobs. Existing blobs are read with the
// codec matching their extension.
func WithCompressor(c compress.Compressor) Option {
	return func(o *options) {
		if c != nil {
			o.compressor = c
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTaskTimeout bounds each background bookkeeping task.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *options) {
		o.taskTimeout = d
	}
}

// core is the state shared by the record stores.
type core struct {
	db     *gorm.DB
	dir    string
	now    func() time.Time
	policy policy.Policy
	log    *zap.Logger
	tasks  *taskGroup
}

func (c *core) clock() time.Time {
	return c.now().UTC()
}

// Cache bundles the record stores over one store handle and one cache directory.
type Cache struct {
	*core

	Values    *ValueStore
	Files     *FileStore
	Forecasts *ForecastStore
}

// New constructs a Cache over an already migrated database. dir is the exclusive directory
// for file blobs and is created when missing.
func New(db *gorm.DB, dir string, opts ...Option) (*Cache, error) {
	if db == nil {
		return nil, errors.New("cache: db is nil")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, storageError("create cache directory", err)
	}

	cfg := options{
		now:        time.Now,
		policy:     policy.DefaultPolicy(),
		compressor: compress.None(),
		log:        logger.WithModule("cache"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	shared := &core{
		db:     db,
		dir:    dir,
		now:    cfg.now,
		policy: cfg.policy,
		log:    cfg.log,
		tasks:  newTaskGroup(cfg.log, cfg.taskTimeout),
	}

	return &Cache{
		core:      shared,
		Values:    &ValueStore{core: shared},
		Files:     &FileStore{core: shared, touchOnRead: cfg.touchOnRead, compressor: cfg.compressor},
		Forecasts: &ForecastStore{core: shared},
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// DB returns the store handle the cache was built on.
func (c *Cache) DB() *gorm.DB {
	return c.db
}

// Policy returns the TTL policy in effect.
func (c *Cache) Policy() policy.Policy {
	return c.policy
}

// Close waits for background bookkeeping to finish. The store handle stays open; its owner
// closes it.
func (c *Cache) Close() error {
	c.tasks.Close()
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, maxKeyLength)
	}
	return nil
}
