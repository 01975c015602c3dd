package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/flowcache/internal/models"
	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/pkg/metrics"
)

const (
	kindForecast     = "forecast"
	kindReturnPeriod = "return_period"
)

// ReadMode selects whether expired records may be returned.
type ReadMode int

const (
	// FreshOnly returns a record only while it is within its TTL.
	FreshOnly ReadMode = iota
	// AllowStale returns the stored record regardless of age.
	AllowStale
)

// Forecast is a cached forecast document.
type Forecast struct {
	ReachID  string
	Class    models.ForecastClass
	Payload  json.RawMessage
	StoredAt time.Time
	Fresh    bool
}

// ReturnPeriods is a cached set of flood-frequency thresholds keyed by recurrence interval in years.
type ReturnPeriods struct {
	ReachID    string
	Thresholds map[int]float64
	Unit       models.FlowUnit
	StoredAt   time.Time
	Fresh      bool
}

// ForecastStore caches forecast documents and return-period thresholds per reach.
// Each write replaces the previous record for its natural key.
type ForecastStore struct {
	*core
}

// PutForecast stores payload as the current document for (reachID, class).
func (s *ForecastStore) PutForecast(ctx context.Context, reachID string, class models.ForecastClass, payload []byte) (time.Time, error) {
	if err := validateKey(reachID); err != nil {
		return time.Time{}, err
	}
	if !class.Valid() {
		return time.Time{}, fmt.Errorf("cache: invalid forecast class %q", class)
	}
	if !json.Valid(payload) {
		return time.Time{}, ErrInvalidPayload
	}

	record := models.ForecastCacheRecord{
		ReachID:  reachID,
		Class:    class,
		Payload:  datatypes.JSON(payload),
		StoredAt: s.clock(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reach_id"}, {Name: "forecast_class"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "stored_at"}),
		}).Create(&record).Error
	if err != nil {
		return time.Time{}, storageError("put forecast", err)
	}
	return record.StoredAt, nil
}

// Forecast returns the stored document for (reachID, class). With FreshOnly an expired record
// is a miss; with AllowStale it is returned with Fresh unset.
func (s *ForecastStore) Forecast(ctx context.Context, reachID string, class models.ForecastClass, mode ReadMode) (*Forecast, bool, error) {
	if err := validateKey(reachID); err != nil {
		return nil, false, err
	}

	var record models.ForecastCacheRecord
	err := s.db.WithContext(ctx).
		Take(&record, "reach_id = ? AND forecast_class = ?", reachID, class).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CacheLookups.WithLabelValues(kindForecast, "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("get forecast", err)
	}

	payload, decodeErr := decodeJSON[json.RawMessage](kindForecast, reachID+"/"+string(class), record.Payload)
	if decodeErr != nil {
		s.heal(ctx, kindForecast, decodeErr, func(ctx context.Context) error {
			return s.RemoveForecast(ctx, reachID, class)
		})
		return nil, false, nil
	}

	fresh := s.policy.Fresh(policy.ForForecast(class), record.StoredAt, s.clock())
	if !fresh && mode == FreshOnly {
		metrics.CacheLookups.WithLabelValues(kindForecast, "expired").Inc()
		return nil, false, nil
	}

	metrics.CacheLookups.WithLabelValues(kindForecast, lookupResult(fresh)).Inc()
	return &Forecast{
		ReachID:  record.ReachID,
		Class:    record.Class,
		Payload:  payload,
		StoredAt: record.StoredAt,
		Fresh:    fresh,
	}, true, nil
}

// RemoveForecast deletes the record for (reachID, class). Removing an absent record is not an error.
func (s *ForecastStore) RemoveForecast(ctx context.Context, reachID string, class models.ForecastClass) error {
	err := s.db.WithContext(ctx).
		Where("reach_id = ? AND forecast_class = ?", reachID, class).
		Delete(&models.ForecastCacheRecord{}).Error
	return storageError("remove forecast", err)
}

// PutReturnPeriods stores thresholds for reachID tagged with unit. An empty unit is stored as
// the legacy default.
func (s *ForecastStore) PutReturnPeriods(ctx context.Context, reachID string, thresholds map[int]float64, unit models.FlowUnit) (time.Time, error) {
	if err := validateKey(reachID); err != nil {
		return time.Time{}, err
	}
	if unit == "" {
		unit = models.LegacyFlowUnit
	}
	if !unit.Valid() {
		return time.Time{}, fmt.Errorf("cache: invalid flow unit %q", unit)
	}

	encoded := make(map[string]float64, len(thresholds))
	for year, flow := range thresholds {
		encoded[strconv.Itoa(year)] = flow
	}
	payload, err := json.Marshal(encoded)
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: encode return periods %q: %w", reachID, err)
	}

	record := models.ReturnPeriodCacheRecord{
		ReachID:  reachID,
		Payload:  datatypes.JSON(payload),
		Unit:     unit,
		StoredAt: s.clock(),
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reach_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "unit", "stored_at"}),
		}).Create(&record).Error
	if err != nil {
		return time.Time{}, storageError("put return periods", err)
	}
	return record.StoredAt, nil
}

// ReturnPeriods returns the stored thresholds for reachID. Rows without a unit tag read back
// as models.LegacyFlowUnit.
func (s *ForecastStore) ReturnPeriods(ctx context.Context, reachID string, mode ReadMode) (*ReturnPeriods, bool, error) {
	if err := validateKey(reachID); err != nil {
		return nil, false, err
	}

	var record models.ReturnPeriodCacheRecord
	err := s.db.WithContext(ctx).Take(&record, "reach_id = ?", reachID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CacheLookups.WithLabelValues(kindReturnPeriod, "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("get return periods", err)
	}

	thresholds, decodeErr := decodeReturnPeriods(reachID, record)
	if decodeErr != nil {
		s.heal(ctx, kindReturnPeriod, decodeErr, func(ctx context.Context) error {
			return s.RemoveReturnPeriods(ctx, reachID)
		})
		return nil, false, nil
	}

	fresh := s.policy.Fresh(policy.CategoryReturnPeriod, record.StoredAt, s.clock())
	if !fresh && mode == FreshOnly {
		metrics.CacheLookups.WithLabelValues(kindReturnPeriod, "expired").Inc()
		return nil, false, nil
	}

	metrics.CacheLookups.WithLabelValues(kindReturnPeriod, lookupResult(fresh)).Inc()
	return &ReturnPeriods{
		ReachID:    record.ReachID,
		Thresholds: thresholds,
		Unit:       record.ResolvedUnit(),
		StoredAt:   record.StoredAt,
		Fresh:      fresh,
	}, true, nil
}

// RemoveReturnPeriods deletes the record for reachID. Removing an absent record is not an error.
func (s *ForecastStore) RemoveReturnPeriods(ctx context.Context, reachID string) error {
	err := s.db.WithContext(ctx).
		Where("reach_id = ?", reachID).
		Delete(&models.ReturnPeriodCacheRecord{}).Error
	return storageError("remove return periods", err)
}

func decodeReturnPeriods(reachID string, record models.ReturnPeriodCacheRecord) (map[int]float64, *DecodeError) {
	raw, decodeErr := decodeJSON[map[string]float64](kindReturnPeriod, reachID, record.Payload)
	if decodeErr != nil {
		return nil, decodeErr
	}

	out := make(map[int]float64, len(raw))
	for key, flow := range raw {
		year, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, &DecodeError{Kind: kindReturnPeriod, Key: reachID, Err: fmt.Errorf("year key %q: %w", key, err)}
		}
		out[year] = flow
	}
	if record.Unit != "" && !record.Unit.Valid() {
		return nil, &DecodeError{Kind: kindReturnPeriod, Key: reachID, Err: fmt.Errorf("unit tag %q", record.Unit)}
	}
	return out, nil
}

func lookupResult(fresh bool) string {
	if fresh {
		return "hit"
	}
	return "stale"
}
