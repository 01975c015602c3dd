package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/models"
)

// AutoMigrate creates or updates the database schema for all cache tables.
//
// Return-period tables created before the unit column existed gain a nullable unit column;
// those rows read back as models.LegacyFlowUnit.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CacheEntry{},
		&models.FileCacheEntry{},
		&models.ForecastCacheRecord{},
		&models.ReturnPeriodCacheRecord{},
		&models.SystemSetting{},
	)
}
