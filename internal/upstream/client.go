// Package upstream talks to the hydrological forecast API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/pkg/logger"
)

const (
	defaultAPIKeyHeader = "X-Api-Key"
	defaultUserAgent    = "flowcache/1.0"
	defaultMaxBodyBytes = 16 << 20

	// UnitHeader optionally carries the flow unit of a return-period response.
	UnitHeader = "X-Flow-Unit"
)

// Payload is a raw upstream document plus, for return periods, its source unit tag.
type Payload struct {
	Body []byte
	Unit string
}

// StatusError reports a non-success HTTP status from the upstream API.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s returned http %d: %s", e.URL, e.StatusCode, e.Body)
}

// Config describes the upstream endpoints. URL templates substitute {reach} with the reach
// identifier and {series} with the forecast series name (short_range, ...).
type Config struct {
	ForecastURL      string        `mapstructure:"forecast_url"`
	ReturnPeriodURL  string        `mapstructure:"return_period_url"`
	ReturnPeriodUnit string        `mapstructure:"return_period_unit"`
	APIKey           string        `mapstructure:"api_key"`
	APIKeyHeader     string        `mapstructure:"api_key_header"`
	UserAgent        string        `mapstructure:"user_agent"`
	RequestDelay     time.Duration `mapstructure:"request_delay"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client fetches forecast and return-period documents.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger

	mu       sync.Mutex
	nextSlot time.Time
}

// NewClient validates the URL templates and constructs a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ForecastURL) == "" || strings.TrimSpace(cfg.ReturnPeriodURL) == "" {
		return nil, errors.New("upstream: forecast_url and return_period_url are required")
	}
	if !strings.Contains(cfg.ForecastURL, "{reach}") || !strings.Contains(cfg.ReturnPeriodURL, "{reach}") {
		return nil, errors.New("upstream: url templates must contain {reach}")
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	client := &Client{
		cfg:  cfg,
		http: &http.Client{},
		log:  logger.WithModule("upstream"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Fetch retrieves the document for category and reachID. Cancellation and deadlines come
// from ctx.
func (c *Client) Fetch(ctx context.Context, category policy.Category, reachID string) (Payload, error) {
	target, err := c.endpoint(category, reachID)
	if err != nil {
		return Payload{}, err
	}

	if err := c.wait(ctx); err != nil {
		return Payload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Payload{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return Payload{}, fmt.Errorf("upstream: read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Payload{}, &StatusError{StatusCode: resp.StatusCode, URL: target, Body: truncate(string(body), 256)}
	}

	payload := Payload{Body: body}
	if category == policy.CategoryReturnPeriod {
		payload.Unit = resp.Header.Get(UnitHeader)
		if payload.Unit == "" {
			payload.Unit = c.cfg.ReturnPeriodUnit
		}
	}

	c.log.Debug("fetched upstream document",
		zap.String("category", category.String()),
		zap.String("reach_id", reachID),
		zap.Int("bytes", len(body)),
	)
	return payload, nil
}

func (c *Client) endpoint(category policy.Category, reachID string) (string, error) {
	reach := url.PathEscape(strings.TrimSpace(reachID))
	if reach == "" {
		return "", errors.New("upstream: reach id is required")
	}

	if category == policy.CategoryReturnPeriod {
		return strings.ReplaceAll(c.cfg.ReturnPeriodURL, "{reach}", reach), nil
	}

	class, ok := category.ForecastClass()
	if !ok {
		return "", fmt.Errorf("upstream: category %s has no upstream endpoint", category)
	}
	target := strings.ReplaceAll(c.cfg.ForecastURL, "{reach}", reach)
	return strings.ReplaceAll(target, "{series}", class.Series()), nil
}

// wait spaces requests at least RequestDelay apart. Each caller reserves the next slot under
// the lock and sleeps outside it.
func (c *Client) wait(ctx context.Context) error {
	if c.cfg.RequestDelay <= 0 {
		return nil
	}

	c.mu.Lock()
	now := time.Now()
	slot := c.nextSlot
	if slot.Before(now) {
		slot = now
	}
	c.nextSlot = slot.Add(c.cfg.RequestDelay)
	c.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
