package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/flowcache/internal/models"
	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/pkg/metrics"
)

const kindValue = "value"

// Entry is a live generic cache row.
type Entry struct {
	Key       string
	Value     []byte
	Metadata  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ValueStore is the generic key/value cache.
type ValueStore struct {
	*core
}

// Set upserts value under key with expiry now+ttl. A non-positive ttl falls back to the
// generic cache default. metadata may be nil.
func (s *ValueStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, metadata []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	now := s.clock()
	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(s.policy.TTLOrDefault(policy.CategoryValue, ttl)),
		Metadata:  datatypes.JSON(metadata),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "created_at", "expires_at", "metadata"}),
		}).Create(&entry).Error
	return storageError("set value", err)
}

// Entry returns the live row for key, including its metadata.
func (s *ValueStore) Entry(ctx context.Context, key string) (*Entry, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	var row models.CacheEntry
	err := s.db.WithContext(ctx).Take(&row, keyIs(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CacheLookups.WithLabelValues(kindValue, "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("get value", err)
	}

	if !row.Live(s.clock()) {
		metrics.CacheLookups.WithLabelValues(kindValue, "expired").Inc()
		return nil, false, nil
	}

	metrics.CacheLookups.WithLabelValues(kindValue, "hit").Inc()
	return &Entry{
		Key:       row.Key,
		Value:     row.Value,
		Metadata:  []byte(row.Metadata),
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, true, nil
}

// Get returns the value for key when a live row exists.
func (s *ValueStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := s.Entry(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// Exists reports whether a live row is present for key.
func (s *ValueStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where(keyIs(key)).
		Where("expires_at > ?", s.clock()).
		Count(&count).Error
	if err != nil {
		return false, storageError("exists value", err)
	}
	return count > 0, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *ValueStore) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Where(keyIs(key)).Delete(&models.CacheEntry{}).Error
	return storageError("remove value", err)
}

// GetValue decodes the JSON value stored under key. A value that no longer decodes into T is
// deleted and reported as a miss.
func GetValue[T any](ctx context.Context, s *ValueStore, key string) (T, bool, error) {
	var zero T

	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}

	value, decodeErr := decodeJSON[T](kindValue, key, raw)
	if decodeErr != nil {
		s.heal(ctx, kindValue, decodeErr, func(ctx context.Context) error {
			return s.Remove(ctx, key)
		})
		return zero, false, nil
	}
	return value, true, nil
}

// SetValue stores value as JSON under key.
func SetValue[T any](ctx context.Context, s *ValueStore, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode value %q: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl, nil)
}

// keyIs matches the key column. Built as a clause so gorm quotes it: KEY is reserved in MySQL.
func keyIs(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func keyIn(keys []string) clause.IN {
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = key
	}
	return clause.IN{Column: clause.Column{Name: "key"}, Values: values}
}
