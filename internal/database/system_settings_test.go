package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/models"
)

func TestGetAndUpsertSystemSetting(t *testing.T) {
	db := openSystemSettingTestDB(t)

	value, err := GetSystemSetting(context.Background(), db, "missing")
	require.NoError(t, err)
	require.Equal(t, "", value)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value1"))

	retrieved, err := GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value1", retrieved)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value2"))

	retrieved, err = GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value2", retrieved)
}

func TestRecordAndReadLastSweep(t *testing.T) {
	db := openSystemSettingTestDB(t)

	at, err := LastSweep(context.Background(), db)
	require.NoError(t, err)
	require.True(t, at.IsZero())

	sweptAt := time.Date(2024, 3, 9, 14, 30, 0, 125, time.FixedZone("CET", 3600))
	require.NoError(t, RecordSweep(context.Background(), db, sweptAt))

	at, err = LastSweep(context.Background(), db)
	require.NoError(t, err)
	require.True(t, sweptAt.Equal(at))
	require.Equal(t, time.UTC, at.Location())
}

func TestLastSweepRejectsGarbage(t *testing.T) {
	db := openSystemSettingTestDB(t)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, LastSweepSetting, "yesterday"))

	_, err := LastSweep(context.Background(), db)
	require.Error(t, err)
}

func openSystemSettingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "settings.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.SystemSetting{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestSystemSettingKeyIsQuotedForMySQL(t *testing.T) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "flowcache@tcp(127.0.0.1:3306)/flowcache",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var setting models.SystemSetting
		return tx.Take(&setting, settingKeyIs(LastSweepSetting))
	})
	require.Contains(t, sql, "`key` = 'maintenance.last_sweep_at'")
}
