// Package policy maps cache data categories to freshness and retention durations.
// Every function in this package is pure: no I/O, no clock reads.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/flowcache/internal/models"
)

// Category enumerates the kinds of cached data that carry their own TTL.
type Category int

const (
	// CategoryShortRange is a short-range forecast document.
	CategoryShortRange Category = iota + 1
	// CategoryMediumRange is a medium-range forecast document.
	CategoryMediumRange
	// CategoryLongRange is a long-range forecast document.
	CategoryLongRange
	// CategoryReturnPeriod is a reach's flood-frequency thresholds.
	CategoryReturnPeriod
	// CategoryValue is the generic key/value cache.
	CategoryValue
	// CategoryFile is the binary blob cache.
	CategoryFile
)

var categoryNames = map[Category]string{
	CategoryShortRange:   "short_range",
	CategoryMediumRange:  "medium_range",
	CategoryLongRange:    "long_range",
	CategoryReturnPeriod: "return_period",
	CategoryValue:        "value",
	CategoryFile:         "file",
}

// String returns the stable label used in logs and metrics.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// IsForecast reports whether c is one of the forecast horizons.
func (c Category) IsForecast() bool {
	return c == CategoryShortRange || c == CategoryMediumRange || c == CategoryLongRange
}

// ParseCategory resolves a category label, accepting the forms produced by String.
func ParseCategory(raw string) (Category, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for category, name := range categoryNames {
		if normalized == name {
			return category, nil
		}
	}
	if class, err := models.ParseForecastClass(normalized); err == nil {
		return ForForecast(class), nil
	}
	return 0, fmt.Errorf("policy: unknown category %q", raw)
}

// ForForecast maps a forecast class to its category.
func ForForecast(class models.ForecastClass) Category {
	switch class {
	case models.ForecastShortRange:
		return CategoryShortRange
	case models.ForecastMediumRange:
		return CategoryMediumRange
	case models.ForecastLongRange:
		return CategoryLongRange
	default:
		return 0
	}
}

// ForecastClass returns the forecast class for a forecast category.
func (c Category) ForecastClass() (models.ForecastClass, bool) {
	switch c {
	case CategoryShortRange:
		return models.ForecastShortRange, true
	case CategoryMediumRange:
		return models.ForecastMediumRange, true
	case CategoryLongRange:
		return models.ForecastLongRange, true
	default:
		return "", false
	}
}

// Policy holds the freshness (TTL), retention (eviction) and advisory staleness durations.
//
// Return periods carry three thresholds. The freshness TTL is always shorter than the
// eviction TTL so a swept store still has a stale window to fall back on. The eviction TTL
// decides when the sweeper deletes a record. The advisory threshold only flags results as
// too old to trust, and is reached under a running sweeper only when eviction is at least
// as long.
type Policy struct {
	ShortRange   time.Duration `mapstructure:"short_range"`
	MediumRange  time.Duration `mapstructure:"medium_range"`
	LongRange    time.Duration `mapstructure:"long_range"`
	ReturnPeriod time.Duration `mapstructure:"return_period"`
	Value        time.Duration `mapstructure:"value"`
	File         time.Duration `mapstructure:"file"`

	ForecastRetention    time.Duration `mapstructure:"forecast_retention"`
	ReturnPeriodEviction time.Duration `mapstructure:"return_period_eviction"`
	ReturnPeriodAdvisory time.Duration `mapstructure:"return_period_advisory"`
}

// DefaultPolicy returns the stock durations.
func DefaultPolicy() Policy {
	return Policy{
		ShortRange:           2 * time.Hour,
		MediumRange:          12 * time.Hour,
		LongRange:            24 * time.Hour,
		ReturnPeriod:         24 * time.Hour,
		Value:                24 * time.Hour,
		File:                 7 * 24 * time.Hour,
		ForecastRetention:    7 * 24 * time.Hour,
		ReturnPeriodEviction: 7 * 24 * time.Hour,
		ReturnPeriodAdvisory: 30 * 24 * time.Hour,
	}
}

// WithDefaults fills zero or negative durations from DefaultPolicy and shortens a return
// period freshness TTL that would not expire before eviction.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	pick := func(v, fallback time.Duration) time.Duration {
		if v <= 0 {
			return fallback
		}
		return v
	}
	out := Policy{
		ShortRange:           pick(p.ShortRange, def.ShortRange),
		MediumRange:          pick(p.MediumRange, def.MediumRange),
		LongRange:            pick(p.LongRange, def.LongRange),
		ReturnPeriod:         pick(p.ReturnPeriod, def.ReturnPeriod),
		Value:                pick(p.Value, def.Value),
		File:                 pick(p.File, def.File),
		ForecastRetention:    pick(p.ForecastRetention, def.ForecastRetention),
		ReturnPeriodEviction: pick(p.ReturnPeriodEviction, def.ReturnPeriodEviction),
		ReturnPeriodAdvisory: pick(p.ReturnPeriodAdvisory, def.ReturnPeriodAdvisory),
	}
	if out.ReturnPeriod >= out.ReturnPeriodEviction {
		out.ReturnPeriod = min(def.ReturnPeriod, out.ReturnPeriodEviction/2)
	}
	return out
}

// TTL returns how long data of the category is served as fresh.
func (p Policy) TTL(c Category) time.Duration {
	switch c {
	case CategoryShortRange:
		return p.ShortRange
	case CategoryMediumRange:
		return p.MediumRange
	case CategoryLongRange:
		return p.LongRange
	case CategoryReturnPeriod:
		return p.ReturnPeriod
	case CategoryValue:
		return p.Value
	case CategoryFile:
		return p.File
	default:
		return 0
	}
}

// TTLOrDefault returns requested when positive, otherwise the category TTL.
func (p Policy) TTLOrDefault(c Category, requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return p.TTL(c)
}

// Eviction returns how long a record of the category survives after it was stored before
// the sweeper removes it. Zero means the row's own expiry governs.
//
// Forecast retention is never shorter than the TTL so a stale record survives long enough
// to serve as a fallback.
func (p Policy) Eviction(c Category) time.Duration {
	switch {
	case c.IsForecast():
		return max(p.ForecastRetention, p.TTL(c))
	case c == CategoryReturnPeriod:
		return p.ReturnPeriodEviction
	default:
		return 0
	}
}

// Fresh reports whether data of the category stored at storedAt is still fresh at now.
func (p Policy) Fresh(c Category, storedAt, now time.Time) bool {
	return now.Before(storedAt.Add(p.TTL(c)))
}

// EvictBefore returns the stored-at cutoff below which records of the category are swept.
func (p Policy) EvictBefore(c Category, now time.Time) time.Time {
	return now.Add(-p.Eviction(c))
}

// IsAdvisoryStale reports whether return-period data stored at storedAt is too old to trust.
func (p Policy) IsAdvisoryStale(storedAt, now time.Time) bool {
	return !now.Before(storedAt.Add(p.ReturnPeriodAdvisory))
}
