package models

import (
	"time"

	"gorm.io/datatypes"
)

// CacheEntry represents a generic cached value keyed by an opaque string.
type CacheEntry struct {
	Key       string         `gorm:"primaryKey;size:256"`
	Value     []byte
	CreatedAt time.Time      `gorm:"not null"`
	ExpiresAt time.Time      `gorm:"not null;index"`
	Metadata  datatypes.JSON `gorm:"type:text"`
}

// TableName pins the generic cache table name.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// Live reports whether the entry may still be served at now.
func (e *CacheEntry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
