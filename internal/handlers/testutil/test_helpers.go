package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/flowcache/internal/api"
	"github.com/charlesng35/flowcache/internal/app"
	"github.com/charlesng35/flowcache/internal/app/maintenance"
	"github.com/charlesng35/flowcache/internal/cache"
	sharedtestutil "github.com/charlesng35/flowcache/internal/database/testutil"
	"github.com/charlesng35/flowcache/internal/middleware"
	"github.com/charlesng35/flowcache/internal/monitoring"
	"github.com/charlesng35/flowcache/internal/monitoring/checks"
	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/internal/services"
	"github.com/charlesng35/flowcache/internal/upstream"
	"github.com/charlesng35/flowcache/pkg/response"
)

// Clock is a manually advanced time source shared by the cache and the service.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Fetcher serves canned upstream documents keyed by category and reach.
type Fetcher struct {
	mu        sync.Mutex
	documents map[string]upstream.Payload
	calls     atomic.Int32
	failing   atomic.Bool
}

// Set registers the document returned for (category, reachID).
func (f *Fetcher) Set(category policy.Category, reachID string, payload upstream.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[category.String()+"/"+reachID] = payload
}

// Fail makes every fetch fail until called again with false.
func (f *Fetcher) Fail(failing bool) {
	f.failing.Store(failing)
}

// Calls reports how many fetches were attempted.
func (f *Fetcher) Calls() int {
	return int(f.calls.Load())
}

// Fetch implements services.Fetcher.
func (f *Fetcher) Fetch(_ context.Context, category policy.Category, reachID string) (upstream.Payload, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return upstream.Payload{}, &upstream.StatusError{StatusCode: http.StatusBadGateway}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.documents[category.String()+"/"+reachID]
	if !ok {
		return upstream.Payload{}, &upstream.StatusError{StatusCode: http.StatusNotFound}
	}
	return payload, nil
}

// Env encapsulates a fully-wired API instance backed by a temporary database for handler tests.
type Env struct {
	T       *testing.T
	DB      *gorm.DB
	Cache   *cache.Cache
	Clock   *Clock
	Fetcher *Fetcher
	Probe   *upstream.StaticProbe
	Monitor *monitoring.Module
	Config  *app.Config
	Router  *gin.Engine
}

// NewEnv provisions a fresh handler test environment. cfgFn may adjust the configuration
// before the router is built.
func NewEnv(t *testing.T, cfgFn ...func(*app.Config)) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	clock := &Clock{now: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)}

	cfg := &app.Config{
		TTL: policy.DefaultPolicy(),
		Server: app.ServerConfig{
			Prefetch: app.RateLimitConfig{Requests: 100, Window: time.Minute},
		},
		Upstream: app.UpstreamConfig{Coalesce: true},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, fn := range cfgFn {
		fn(cfg)
	}

	cacheOpts, err := cfg.CacheOptions()
	require.NoError(t, err)
	c, err := cache.New(db, t.TempDir(), append(cacheOpts, cache.WithNow(clock.Now))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	fetcher := &Fetcher{documents: make(map[string]upstream.Payload)}
	probe := upstream.NewStaticProbe(true)

	svc, err := services.NewForecastService(c.Forecasts, fetcher, probe, append(cfg.ServiceOptions(), services.WithNow(clock.Now))...)
	require.NoError(t, err)

	monitor := monitoring.NewModule(monitoring.Options{})
	monitor.Health().RegisterLiveness(checks.CacheDir(c.Dir()))
	monitor.Health().RegisterReadiness(checks.Database(db, time.Second))
	monitor.Health().RegisterReadiness(checks.Upstream(probe))

	rateStore := middleware.NewMemoryRateStore(time.Minute)
	t.Cleanup(rateStore.Close)

	router, err := api.NewRouter(api.Deps{
		Config:    cfg,
		Cache:     c,
		Forecasts: svc,
		Sweeper:   maintenance.NewSweeper(c, maintenance.WithRecorder(monitor.Sweeps())),
		Monitor:   monitor,
		RateStore: rateStore,
	})
	require.NoError(t, err)

	return &Env{
		T:       t,
		DB:      db,
		Cache:   c,
		Clock:   clock,
		Fetcher: fetcher,
		Probe:   probe,
		Monitor: monitor,
		Config:  cfg,
		Router:  router,
	}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router. Non-nil bodies that are not
// []byte are JSON encoded.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RequestWithHeaders(method, path, body, nil)
}

// RequestWithHeaders is Request with extra headers.
func (e *Env) RequestWithHeaders(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader io.Reader
	contentType := ""
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(e.T, err)
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
