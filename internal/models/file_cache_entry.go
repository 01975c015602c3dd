package models

import "time"

// FileCacheEntry describes a binary blob stored as a file inside the cache directory.
// FilePath is owned by the cache; nothing else may rename or delete it.
type FileCacheEntry struct {
	Key            string    `gorm:"primaryKey;size:256"`
	FilePath       string    `gorm:"size:1024;not null"`
	SizeBytes      int64     `gorm:"not null;default:0"`
	MimeType       *string   `gorm:"size:128"`
	CreatedAt      time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null;index"`
	LastAccessedAt time.Time `gorm:"not null"`
}

// TableName pins the file cache table name.
func (FileCacheEntry) TableName() string {
	return "file_cache_entries"
}

// Live reports whether the entry may still be served at now.
func (e *FileCacheEntry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
