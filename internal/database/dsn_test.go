package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "flowcache", Name: "flowcache"})
	require.NoError(t, err)
	require.Equal(t,
		"host=localhost port=5432 user=flowcache dbname=flowcache TimeZone=UTC application_name=flowcache sslmode=disable",
		dsn)
}

func TestBuildPostgresDSNOverridesOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "river",
		Password: "pass",
		Name:     "flows",
		Host:     "db.example.com",
		Port:     6543,
		Options:  map[string]string{"sslmode": "require", "search_path": "cache"},
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db.example.com port=6543 user=river dbname=flows password=pass")
	require.Contains(t, dsn, "sslmode=require")
	require.Contains(t, dsn, "search_path=cache")
	require.Contains(t, dsn, "TimeZone=UTC")
	require.NotContains(t, dsn, "sslmode=disable")
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "flowcache", Name: "flowcache"})
	require.NoError(t, err)
	require.Equal(t, "flowcache@tcp(127.0.0.1:3306)/flowcache?charset=utf8mb4&loc=UTC&parseTime=true", dsn)
}

func TestBuildMySQLDSNOverridesOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "river",
		Password: "secret",
		Name:     "flows",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify", "loc": "Local"},
	})
	require.NoError(t, err)
	require.Equal(t, "river:secret@tcp(db.example.com:3307)/flows?charset=utf8mb4&loc=Local&parseTime=true&tls=skip-verify", dsn)
}

func TestDSNBuildersUseExplicitDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://u@h/db"})
	require.NoError(t, err)
	require.Equal(t, "postgres://u@h/db", dsn)

	dsn, err = buildMySQLDSN(Config{DSN: "u@tcp(h)/db"})
	require.NoError(t, err)
	require.Equal(t, "u@tcp(h)/db", dsn)
}

func TestDSNBuildersRequireUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{})
	require.ErrorContains(t, err, "postgres")

	_, err = buildMySQLDSN(Config{Host: "localhost"})
	require.ErrorContains(t, err, "mysql")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.ErrorContains(t, err, "unsupported database driver")
}
