package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/flowcache/internal/models"
)

func TestForecastWritesReplace(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	_, err := c.Forecasts.PutForecast(ctx, "R123", models.ForecastShortRange, []byte(`{"series":"A"}`))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	storedAt, err := c.Forecasts.PutForecast(ctx, "R123", models.ForecastShortRange, []byte(`{"series":"B"}`))
	require.NoError(t, err)
	require.True(t, storedAt.Equal(clock.Now()))

	var rows []models.ForecastCacheRecord
	require.NoError(t, c.db.Where("reach_id = ?", "R123").Find(&rows).Error)
	require.Len(t, rows, 1)
	require.JSONEq(t, `{"series":"B"}`, string(rows[0].Payload))

	forecast, ok, err := c.Forecasts.Forecast(ctx, "R123", models.ForecastShortRange, FreshOnly)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, forecast.Fresh)
	require.JSONEq(t, `{"series":"B"}`, string(forecast.Payload))
}

func TestForecastClassesAreIndependent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Forecasts.PutForecast(ctx, "R1", models.ForecastShortRange, []byte(`1`))
	require.NoError(t, err)
	_, err = c.Forecasts.PutForecast(ctx, "R1", models.ForecastLongRange, []byte(`2`))
	require.NoError(t, err)

	require.EqualValues(t, 2, countRows(t, c.db, &models.ForecastCacheRecord{}))

	_, ok, err := c.Forecasts.Forecast(ctx, "R1", models.ForecastMediumRange, AllowStale)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestForecastFreshnessFollowsClassTTL(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	_, err := c.Forecasts.PutForecast(ctx, "R123", models.ForecastShortRange, []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = c.Forecasts.PutForecast(ctx, "R123", models.ForecastMediumRange, []byte(`{"v":2}`))
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)

	_, ok, err := c.Forecasts.Forecast(ctx, "R123", models.ForecastShortRange, FreshOnly)
	require.NoError(t, err)
	require.False(t, ok)

	stale, ok, err := c.Forecasts.Forecast(ctx, "R123", models.ForecastShortRange, AllowStale)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, stale.Fresh)
	require.JSONEq(t, `{"v":1}`, string(stale.Payload))

	medium, ok, err := c.Forecasts.Forecast(ctx, "R123", models.ForecastMediumRange, FreshOnly)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, medium.Fresh)
}

func TestForecastRejectsInvalidInput(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Forecasts.PutForecast(ctx, "R1", models.ForecastShortRange, []byte(`<html>`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = c.Forecasts.PutForecast(ctx, "R1", "hourly", []byte(`{}`))
	require.Error(t, err)

	_, err = c.Forecasts.PutForecast(ctx, "", models.ForecastShortRange, []byte(`{}`))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestForecastCorruptPayloadIsHealed(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.db.Exec(
		"INSERT INTO forecast_cache_records (reach_id, forecast_class, payload, stored_at) VALUES (?, ?, ?, ?)",
		"R9", "short", "{truncated", clock.Now(),
	).Error)

	_, ok, err := c.Forecasts.Forecast(ctx, "R9", models.ForecastShortRange, AllowStale)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, countRows(t, c.db, &models.ForecastCacheRecord{}))
}

func TestReturnPeriodUnitRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	thresholds := map[int]float64{2: 120.5, 5: 210, 10: 280.25, 25: 360, 50: 420, 100: 480}
	_, err := c.Forecasts.PutReturnPeriods(ctx, "R123", thresholds, models.FlowUnitCFS)
	require.NoError(t, err)

	got, ok, err := c.Forecasts.ReturnPeriods(ctx, "R123", FreshOnly)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.FlowUnitCFS, got.Unit)
	require.Equal(t, thresholds, got.Thresholds)
	require.True(t, got.Fresh)
}

func TestReturnPeriodWithoutUnitReadsAsLegacyDefault(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	_, err := c.Forecasts.PutReturnPeriods(ctx, "R1", map[int]float64{2: 1}, "")
	require.NoError(t, err)

	got, ok, err := c.Forecasts.ReturnPeriods(ctx, "R1", FreshOnly)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.LegacyFlowUnit, got.Unit)

	require.NoError(t, c.db.Exec(
		"INSERT INTO return_period_cache_records (reach_id, payload, unit, stored_at) VALUES (?, ?, NULL, ?)",
		"R2", `{"2":10,"100":90}`, clock.Now(),
	).Error)

	legacy, ok, err := c.Forecasts.ReturnPeriods(ctx, "R2", FreshOnly)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.LegacyFlowUnit, legacy.Unit)
	require.Equal(t, map[int]float64{2: 10, 100: 90}, legacy.Thresholds)
}

func TestReturnPeriodFreshnessAndHealing(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	_, err := c.Forecasts.PutReturnPeriods(ctx, "R1", map[int]float64{2: 1}, models.FlowUnitCMS)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	_, ok, err := c.Forecasts.ReturnPeriods(ctx, "R1", FreshOnly)
	require.NoError(t, err)
	require.False(t, ok)

	stale, ok, err := c.Forecasts.ReturnPeriods(ctx, "R1", AllowStale)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, stale.Fresh)

	require.NoError(t, c.db.Exec(
		"UPDATE return_period_cache_records SET unit = ? WHERE reach_id = ?", "furlongs", "R1",
	).Error)

	_, ok, err = c.Forecasts.ReturnPeriods(ctx, "R1", AllowStale)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, countRows(t, c.db, &models.ReturnPeriodCacheRecord{}))
}
