package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/database"
	"github.com/charlesng35/flowcache/internal/models"
	"github.com/charlesng35/flowcache/internal/policy"
)

const (
	purgeBatchSize = 200
	// orphanGrace keeps files younger than this out of the orphan pass so an in-flight
	// SetFile is never raced.
	orphanGrace = time.Hour
)

// PurgeStats captures the number of records removed for each record kind.
type PurgeStats struct {
	Values        int64 `json:"values"`
	Files         int64 `json:"files"`
	Forecasts     int64 `json:"forecasts"`
	ReturnPeriods int64 `json:"return_periods"`
	OrphanFiles   int64 `json:"orphan_files"`
}

// Total returns the number of records removed across all kinds.
func (s PurgeStats) Total() int64 {
	return s.Values + s.Files + s.Forecasts + s.ReturnPeriods + s.OrphanFiles
}

// Usage is the advisory size accounting of the cache.
type Usage struct {
	Values        int64 `json:"values"`
	Files         int64 `json:"files"`
	Forecasts     int64 `json:"forecasts"`
	ReturnPeriods int64 `json:"return_periods"`
	FileBytes     int64 `json:"file_bytes"`
	StoreBytes    int64 `json:"store_bytes"`
	TotalBytes    int64 `json:"total_bytes"`
}

// PurgeExpired removes expired values and files and evicts forecast and return-period records
// past their retention. Files are deleted before their rows; a file that is already gone is
// skipped. A file that cannot be deleted keeps its row so nothing ever points at a deleted
// file. Running it twice without new writes removes nothing the second time.
func (c *Cache) PurgeExpired(ctx context.Context) (PurgeStats, error) {
	now := c.clock()
	stats := PurgeStats{}
	var errs error

	if result := c.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.CacheEntry{}); result.Error != nil {
		errs = multierr.Append(errs, storageError("purge values", result.Error))
	} else {
		stats.Values = result.RowsAffected
	}

	files, err := c.purgeExpiredFiles(ctx)
	stats.Files = files
	errs = multierr.Append(errs, err)

	orphans, err := c.purgeOrphanFiles(ctx, now)
	stats.OrphanFiles = orphans
	errs = multierr.Append(errs, err)

	for _, class := range models.ForecastClasses() {
		cutoff := c.policy.EvictBefore(policy.ForForecast(class), now)
		if result := c.db.WithContext(ctx).
			Where("forecast_class = ? AND stored_at < ?", class, cutoff).
			Delete(&models.ForecastCacheRecord{}); result.Error != nil {
			errs = multierr.Append(errs, storageError("purge forecasts", result.Error))
		} else {
			stats.Forecasts += result.RowsAffected
		}
	}

	if result := c.db.WithContext(ctx).
		Where("stored_at < ?", c.policy.EvictBefore(policy.CategoryReturnPeriod, now)).
		Delete(&models.ReturnPeriodCacheRecord{}); result.Error != nil {
		errs = multierr.Append(errs, storageError("purge return periods", result.Error))
	} else {
		stats.ReturnPeriods = result.RowsAffected
	}

	if err := database.RecordSweep(ctx, c.db, now); err != nil {
		c.log.Warn("failed to record sweep time", zap.Error(err))
	}

	return stats, errs
}

func (c *Cache) purgeExpiredFiles(ctx context.Context) (int64, error) {
	var (
		removed int64
		errs    error
		expired []models.FileCacheEntry
	)

	now := c.clock()
	result := c.db.WithContext(ctx).
		Where("expires_at < ?", now).
		FindInBatches(&expired, purgeBatchSize, func(tx *gorm.DB, _ int) error {
			keys := make([]string, 0, len(expired))
			for _, row := range expired {
				if err := removeIfExists(c.path(row.FilePath)); err != nil {
					errs = multierr.Append(errs, storageError("purge file", err))
					continue
				}
				keys = append(keys, row.Key)
			}
			if len(keys) == 0 {
				return nil
			}
			// Only rows still expired at now are removed; a concurrent SetFile wins.
			deleted := c.db.WithContext(ctx).
				Where(keyIn(keys)).
				Where("expires_at < ?", now).
				Delete(&models.FileCacheEntry{})
			if deleted.Error != nil {
				return deleted.Error
			}
			removed += deleted.RowsAffected
			return nil
		})
	if result.Error != nil {
		errs = multierr.Append(errs, storageError("purge files", result.Error))
	}
	return removed, errs
}

// purgeOrphanFiles removes files in the cache directory that no row references, such as blobs
// left behind by a crash between writing the file and upserting its row.
func (c *Cache) purgeOrphanFiles(ctx context.Context, now time.Time) (int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, storageError("purge orphans", err)
	}

	var names []string
	if err := c.db.WithContext(ctx).
		Model(&models.FileCacheEntry{}).
		Pluck("file_path", &names).Error; err != nil {
		return 0, storageError("purge orphans", err)
	}
	referenced := make(map[string]struct{}, len(names))
	for _, name := range names {
		referenced[filepath.Base(name)] = struct{}{}
	}

	var (
		removed int64
		errs    error
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := referenced[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < orphanGrace {
			continue
		}
		c.log.Debug("removing unreferenced cache file", zap.String("file", entry.Name()))
		if err := removeIfExists(c.path(entry.Name())); err != nil {
			errs = multierr.Append(errs, storageError("purge orphans", err))
			continue
		}
		removed++
	}
	return removed, errs
}

// Clear deletes every owned file, then every row of every kind. Files already missing are skipped.
func (c *Cache) Clear(ctx context.Context) (PurgeStats, error) {
	var errs error

	entries, err := os.ReadDir(c.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return PurgeStats{}, storageError("clear files", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := removeIfExists(c.path(entry.Name())); err != nil {
			errs = multierr.Append(errs, storageError("clear files", err))
		}
	}
	if errs != nil {
		return PurgeStats{}, errs
	}

	stats := PurgeStats{}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		targets := []struct {
			model any
			count *int64
		}{
			{&models.FileCacheEntry{}, &stats.Files},
			{&models.CacheEntry{}, &stats.Values},
			{&models.ForecastCacheRecord{}, &stats.Forecasts},
			{&models.ReturnPeriodCacheRecord{}, &stats.ReturnPeriods},
		}
		for _, target := range targets {
			result := all.Delete(target.model)
			if result.Error != nil {
				return fmt.Errorf("%T: %w", target.model, result.Error)
			}
			*target.count = result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return PurgeStats{}, storageError("clear rows", err)
	}
	return stats, nil
}

// Usage reports row counts, the bytes of live file blobs and the size of the backing store.
func (c *Cache) Usage(ctx context.Context) (Usage, error) {
	usage := Usage{}
	db := c.db.WithContext(ctx)

	counts := []struct {
		model any
		count *int64
	}{
		{&models.CacheEntry{}, &usage.Values},
		{&models.FileCacheEntry{}, &usage.Files},
		{&models.ForecastCacheRecord{}, &usage.Forecasts},
		{&models.ReturnPeriodCacheRecord{}, &usage.ReturnPeriods},
	}
	for _, target := range counts {
		if err := db.Model(target.model).Count(target.count).Error; err != nil {
			return Usage{}, storageError("usage", err)
		}
	}

	if err := db.Model(&models.FileCacheEntry{}).
		Where("expires_at > ?", c.clock()).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&usage.FileBytes).Error; err != nil {
		return Usage{}, storageError("usage", err)
	}

	storeBytes, err := database.StorageSize(ctx, c.db)
	if err != nil {
		return Usage{}, storageError("usage", err)
	}
	usage.StoreBytes = storeBytes
	usage.TotalBytes = usage.FileBytes + usage.StoreBytes
	return usage, nil
}
