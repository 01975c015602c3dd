package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/flowcache/internal/policy"
)

func newTestClient(t *testing.T, server *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()

	cfg := Config{
		ForecastURL:     server.URL + "/reaches/{reach}/streamflow?series={series}",
		ReturnPeriodURL: server.URL + "/reaches/{reach}/return-periods",
		APIKey:          "secret",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(cfg, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client
}

func TestFetchForecastBuildsURLAndHeaders(t *testing.T) {
	var gotPath, gotSeries, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSeries = r.URL.Query().Get("series")
		gotKey = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`{"data":[1,2,3]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)

	payload, err := client.Fetch(context.Background(), policy.CategoryMediumRange, "23021904")
	require.NoError(t, err)
	require.JSONEq(t, `{"data":[1,2,3]}`, string(payload.Body))
	require.Empty(t, payload.Unit)
	require.Equal(t, "/reaches/23021904/streamflow", gotPath)
	require.Equal(t, "medium_range", gotSeries)
	require.Equal(t, "secret", gotKey)
}

func TestFetchReturnPeriodUnit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tagged") == "1" {
			w.Header().Set(UnitHeader, "cfs")
		}
		_, _ = w.Write([]byte(`{"return_period_2": 10}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, func(cfg *Config) {
		cfg.ReturnPeriodUnit = "cms"
	})
	payload, err := client.Fetch(context.Background(), policy.CategoryReturnPeriod, "R1")
	require.NoError(t, err)
	require.Equal(t, "cms", payload.Unit)

	tagged := newTestClient(t, server, func(cfg *Config) {
		cfg.ReturnPeriodURL = server.URL + "/rp/{reach}?tagged=1"
	})
	payload, err = tagged.Fetch(context.Background(), policy.CategoryReturnPeriod, "R1")
	require.NoError(t, err)
	require.Equal(t, "cfs", payload.Unit)
}

func TestFetchNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance window", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)

	_, err := client.Fetch(context.Background(), policy.CategoryShortRange, "R1")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "maintenance window")
}

func TestFetchHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(t, server, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, policy.CategoryShortRange, "R1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchRejectsUnsupportedCategory(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestClient(t, server, nil)

	_, err := client.Fetch(context.Background(), policy.CategoryFile, "R1")
	require.Error(t, err)

	_, err = client.Fetch(context.Background(), policy.CategoryShortRange, " ")
	require.Error(t, err)
}

func TestNewClientValidatesTemplates(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	_, err = NewClient(Config{ForecastURL: "http://x/forecast", ReturnPeriodURL: "http://x/{reach}"})
	require.Error(t, err)
}

func TestRequestDelaySpacesRequests(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, func(cfg *Config) {
		cfg.RequestDelay = 40 * time.Millisecond
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Fetch(context.Background(), policy.CategoryShortRange, "R1")
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.EqualValues(t, 3, hits.Load())
}

func TestRequestDelayIsCancellable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, func(cfg *Config) {
		cfg.RequestDelay = time.Hour
	})

	_, err := client.Fetch(context.Background(), policy.CategoryShortRange, "R1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Fetch(ctx, policy.CategoryShortRange, "R1")
	require.ErrorIs(t, err, context.Canceled)
}
