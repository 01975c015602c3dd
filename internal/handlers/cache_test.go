package handlers_test

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/internal/handlers/testutil"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

type statsPayload struct {
	Usage       cache.Usage `json:"usage"`
	LastSweepAt *time.Time  `json:"last_sweep_at"`
	Directory   string      `json:"directory"`
}

func TestValueLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.RequestWithHeaders(http.MethodPut, "/api/cache/values/session?ttl=600", []byte("hello"), map[string]string{
		"X-Cache-Metadata": `{"owner":"map"}`,
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/cache/values/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello", w.Body.String())
	require.Equal(t, `{"owner":"map"}`, w.Header().Get("X-Cache-Metadata"))
	require.Equal(t, "2024-06-01T06:10:00Z", w.Header().Get("X-Cache-Expires-At"))

	env.Clock.Advance(11 * time.Minute)

	w = env.Request(http.MethodGet, "/api/cache/values/session", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.Request(http.MethodPut, "/api/cache/values/session", []byte("again"))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.Request(http.MethodDelete, "/api/cache/values/session", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.Request(http.MethodGet, "/api/cache/values/session", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestValueRejectsBadTTL(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPut, "/api/cache/values/session?ttl=soon", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPut, "/api/cache/values/session?ttl=-5", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPut, "/api/cache/values/session?ttl=90m", []byte("hello"))
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestValueRejectsOverflowingTTL(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, ttl := range []string{"18446744074", "9223372037", "99999999999999999999"} {
		w := env.Request(http.MethodPut, "/api/cache/values/session?ttl="+ttl, []byte("hello"))
		require.Equal(t, http.StatusBadRequest, w.Code, ttl)
	}

	w := env.Request(http.MethodGet, "/api/cache/values/session", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestValueRejectsOversizedBody(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPut, "/api/cache/values/big", bytes.Repeat([]byte("x"), 1<<20+1))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "PAYLOAD_TOO_LARGE", testutil.DecodeResponse(t, w).Error.Code)
}

func TestFileLifecycleDetectsMimeType(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPut, "/api/cache/files/tile-1", pngHeader)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/cache/files/tile-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.Equal(t, pngHeader, w.Body.Bytes())

	w = env.RequestWithHeaders(http.MethodPut, "/api/cache/files/notes", []byte("river notes"), map[string]string{
		"Content-Type": "text/markdown",
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.Request(http.MethodGet, "/api/cache/files/notes", nil)
	require.Equal(t, "text/markdown", w.Header().Get("Content-Type"))

	w = env.Request(http.MethodDelete, "/api/cache/files/tile-1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.Request(http.MethodGet, "/api/cache/files/tile-1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsSweepAndClear(t *testing.T) {
	env := testutil.NewEnv(t)

	require.Equal(t, http.StatusNoContent, env.Request(http.MethodPut, "/api/cache/values/a?ttl=60", []byte("1")).Code)
	require.Equal(t, http.StatusNoContent, env.Request(http.MethodPut, "/api/cache/values/b", []byte("2")).Code)
	require.Equal(t, http.StatusNoContent, env.Request(http.MethodPut, "/api/cache/files/f", []byte("file")).Code)

	w := env.Request(http.MethodGet, "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats statsPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &stats)
	require.EqualValues(t, 2, stats.Usage.Values)
	require.EqualValues(t, 1, stats.Usage.Files)
	require.EqualValues(t, 4, stats.Usage.FileBytes)
	require.Nil(t, stats.LastSweepAt)
	require.Equal(t, env.Cache.Dir(), stats.Directory)

	env.Clock.Advance(2 * time.Minute)

	w = env.Request(http.MethodPost, "/api/cache/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var purged cache.PurgeStats
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &purged)
	require.EqualValues(t, 1, purged.Values)
	require.EqualValues(t, 1, env.Monitor.Sweeps().Snapshot().TotalRuns)

	w = env.Request(http.MethodGet, "/api/cache/stats", nil)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &stats)
	require.EqualValues(t, 1, stats.Usage.Values)
	require.NotNil(t, stats.LastSweepAt)

	w = env.Request(http.MethodDelete, "/api/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared cache.PurgeStats
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &cleared)
	require.EqualValues(t, 1, cleared.Values)
	require.EqualValues(t, 1, cleared.Files)

	w = env.Request(http.MethodGet, "/api/cache/files/f", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
