package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ForecastClass enumerates the forecast horizon buckets.
type ForecastClass string

const (
	// ForecastShortRange covers the next ~18 hours.
	ForecastShortRange ForecastClass = "short"
	// ForecastMediumRange covers the next ~10 days.
	ForecastMediumRange ForecastClass = "medium"
	// ForecastLongRange covers the next ~30 days.
	ForecastLongRange ForecastClass = "long"
)

var validForecastClasses = map[ForecastClass]struct{}{
	ForecastShortRange:  {},
	ForecastMediumRange: {},
	ForecastLongRange:   {},
}

// ForecastClasses lists every forecast class in horizon order.
func ForecastClasses() []ForecastClass {
	return []ForecastClass{ForecastShortRange, ForecastMediumRange, ForecastLongRange}
}

// ParseForecastClass accepts the canonical tags and the upstream series names
// ("short_range", "shortRange", ...).
func ParseForecastClass(raw string) (ForecastClass, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimSuffix(strings.TrimSuffix(normalized, "_range"), "range")

	class := ForecastClass(normalized)
	if _, ok := validForecastClasses[class]; !ok {
		return "", fmt.Errorf("forecast class: unsupported value %q", raw)
	}
	return class, nil
}

// Valid reports whether the class is one of the known horizons.
func (c ForecastClass) Valid() bool {
	_, ok := validForecastClasses[c]
	return ok
}

// Series returns the upstream series name for the class.
func (c ForecastClass) Series() string {
	return string(c) + "_range"
}

// ForecastCacheRecord stores the latest forecast document for a reach and horizon.
// The composite primary key guarantees at most one row per (reach, class).
type ForecastCacheRecord struct {
	ReachID  string         `gorm:"primaryKey;size:64"`
	Class    ForecastClass  `gorm:"column:forecast_class;primaryKey;type:varchar(16)"`
	Payload  datatypes.JSON `gorm:"type:text;not null"`
	StoredAt time.Time      `gorm:"not null;index"`
}

// TableName pins the forecast cache table name.
func (ForecastCacheRecord) TableName() string {
	return "forecast_cache_records"
}

// BeforeSave validates the natural key.
func (r *ForecastCacheRecord) BeforeSave(tx *gorm.DB) error {
	r.ReachID = strings.TrimSpace(r.ReachID)
	if r.ReachID == "" {
		return errors.New("forecast record: reach_id is required")
	}
	if !r.Class.Valid() {
		return fmt.Errorf("forecast record: invalid class %q", r.Class)
	}
	return nil
}
