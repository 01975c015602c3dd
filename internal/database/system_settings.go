package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/flowcache/internal/models"
)

// LastSweepSetting records when the sweeper last completed a pass.
const LastSweepSetting = "maintenance.last_sweep_at"

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, settingKeyIs(key)).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{
		Key:   key,
		Value: value,
	}

	if err := db.WithContext(ctx).
		Where(settingKeyIs(key)).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// RecordSweep persists the completion time of a sweep.
func RecordSweep(ctx context.Context, db *gorm.DB, at time.Time) error {
	return UpsertSystemSetting(ctx, db, LastSweepSetting, at.UTC().Format(time.RFC3339Nano))
}

// LastSweep returns the completion time of the most recent sweep, or the zero time.
func LastSweep(ctx context.Context, db *gorm.DB) (time.Time, error) {
	raw, err := GetSystemSetting(ctx, db, LastSweepSetting)
	if err != nil || strings.TrimSpace(raw) == "" {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("system settings: parse %q: %w", LastSweepSetting, err)
	}
	return at, nil
}

// settingKeyIs matches the key column through gorm's quoting, as KEY is reserved in MySQL.
func settingKeyIs(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}
