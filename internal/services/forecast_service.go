package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/internal/models"
	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/internal/upstream"
	"github.com/charlesng35/flowcache/pkg/logger"
	"github.com/charlesng35/flowcache/pkg/metrics"
	"github.com/charlesng35/flowcache/pkg/validator"
)

const (
	// DefaultFetchTimeout bounds a single upstream fetch.
	DefaultFetchTimeout = 30 * time.Second

	defaultPrefetchConcurrency = 4
)

// Fetcher retrieves raw documents from the upstream API.
type Fetcher interface {
	Fetch(ctx context.Context, category policy.Category, reachID string) (upstream.Payload, error)
}

// ConnectivityProbe reports whether the upstream is reachable right now.
type ConnectivityProbe interface {
	IsOnline(ctx context.Context) bool
}

// ForecastCache is the slice of the cache the service reads and writes through.
type ForecastCache interface {
	PutForecast(ctx context.Context, reachID string, class models.ForecastClass, payload []byte) (time.Time, error)
	Forecast(ctx context.Context, reachID string, class models.ForecastClass, mode cache.ReadMode) (*cache.Forecast, bool, error)
	PutReturnPeriods(ctx context.Context, reachID string, thresholds map[int]float64, unit models.FlowUnit) (time.Time, error)
	ReturnPeriods(ctx context.Context, reachID string, mode cache.ReadMode) (*cache.ReturnPeriods, bool, error)
}

// Source records where a served result came from.
type Source string

const (
	// SourceCache is a fresh cached record.
	SourceCache Source = "cache"
	// SourceNetwork is a record fetched and written through during this request.
	SourceNetwork Source = "network"
	// SourceStale is an expired cached record served because a fetch was impossible.
	SourceStale Source = "stale"
)

// Freshness describes the provenance of a served result.
type Freshness struct {
	Source   Source    `json:"source"`
	Degraded bool      `json:"degraded"`
	Reason   string    `json:"reason,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

func (f *Freshness) freshness() *Freshness {
	return f
}

type result interface {
	freshness() *Freshness
}

// ForecastResult is a forecast document served by GetForecast.
type ForecastResult struct {
	Freshness
	ReachID string               `json:"reach_id"`
	Class   models.ForecastClass `json:"forecast_class"`
	Payload json.RawMessage      `json:"payload"`
}

// ReturnPeriodResult is a threshold set served by GetReturnPeriods.
type ReturnPeriodResult struct {
	Freshness
	ReachID       string          `json:"reach_id"`
	Thresholds    map[int]float64 `json:"thresholds"`
	Unit          models.FlowUnit `json:"unit"`
	AdvisoryStale bool            `json:"advisory_stale"`
}

// Option customises the ForecastService.
type Option func(*ForecastService)

// WithPolicy sets the TTL policy used for advisory staleness.
func WithPolicy(p policy.Policy) Option {
	return func(s *ForecastService) {
		s.policy = p.WithDefaults()
	}
}

// WithFetchTimeout bounds each upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *ForecastService) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithCoalescing shares one in-flight upstream fetch between concurrent requests for the same key.
func WithCoalescing(enabled bool) Option {
	return func(s *ForecastService) {
		s.coalesce = enabled
	}
}

// WithPrefetchConcurrency bounds the number of parallel requests issued by Prefetch.
func WithPrefetchConcurrency(n int) Option {
	return func(s *ForecastService) {
		if n > 0 {
			s.prefetchConcurrency = n
		}
	}
}

// WithNow overrides the clock used for advisory staleness.
func WithNow(now func() time.Time) Option {
	return func(s *ForecastService) {
		if now != nil {
			s.now = now
		}
	}
}

// ForecastService serves forecast and return-period data: fresh cache first, then the
// upstream API when online, then stale cache, then ErrNoData.
type ForecastService struct {
	store   ForecastCache
	fetcher Fetcher
	probe   ConnectivityProbe
	policy  policy.Policy
	now     func() time.Time
	log     *zap.Logger

	fetchTimeout        time.Duration
	coalesce            bool
	prefetchConcurrency int
	flight              singleflight.Group
}

// NewForecastService constructs the service once its collaborators are supplied.
func NewForecastService(store ForecastCache, fetcher Fetcher, probe ConnectivityProbe, opts ...Option) (*ForecastService, error) {
	if store == nil {
		return nil, errors.New("forecast service: cache is required")
	}
	if fetcher == nil {
		return nil, errors.New("forecast service: fetcher is required")
	}
	if probe == nil {
		return nil, errors.New("forecast service: connectivity probe is required")
	}

	svc := &ForecastService{
		store:               store,
		fetcher:             fetcher,
		probe:               probe,
		policy:              policy.DefaultPolicy(),
		now:                 time.Now,
		log:                 logger.WithModule("forecast"),
		fetchTimeout:        DefaultFetchTimeout,
		coalesce:            true,
		prefetchConcurrency: defaultPrefetchConcurrency,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GetForecast returns the forecast document for (reachID, class).
func (s *ForecastService) GetForecast(ctx context.Context, reachID string, class models.ForecastClass) (*ForecastResult, error) {
	reachID, err := normaliseReach(reachID)
	if err != nil {
		return nil, err
	}
	if !class.Valid() {
		return nil, fmt.Errorf("forecast service: invalid forecast class %q", class)
	}
	category := policy.ForForecast(class)

	cached := func(ctx context.Context, mode cache.ReadMode) (*ForecastResult, bool, error) {
		record, ok, err := s.store.Forecast(ctx, reachID, class, mode)
		if err != nil || !ok {
			return nil, false, err
		}
		return &ForecastResult{
			Freshness: Freshness{StoredAt: record.StoredAt},
			ReachID:   reachID,
			Class:     class,
			Payload:   record.Payload,
		}, true, nil
	}

	refresh := func(ctx context.Context) (*ForecastResult, error) {
		payload, err := s.fetch(ctx, category, reachID)
		if err != nil {
			return nil, err
		}
		if !json.Valid(payload.Body) {
			return nil, &FetchError{Category: category, ReachID: reachID, Err: errors.New("upstream returned a non-JSON document")}
		}
		storedAt, err := s.store.PutForecast(ctx, reachID, class, payload.Body)
		if err != nil {
			return nil, err
		}
		return &ForecastResult{
			Freshness: Freshness{StoredAt: storedAt},
			ReachID:   reachID,
			Class:     class,
			Payload:   json.RawMessage(payload.Body),
		}, nil
	}

	return resolve(ctx, s, category, reachID, cached, refresh)
}

// GetReturnPeriods returns the flood-frequency thresholds for reachID. AdvisoryStale is set
// when the thresholds are older than the advisory staleness threshold, whatever their source.
func (s *ForecastService) GetReturnPeriods(ctx context.Context, reachID string) (*ReturnPeriodResult, error) {
	reachID, err := normaliseReach(reachID)
	if err != nil {
		return nil, err
	}
	category := policy.CategoryReturnPeriod

	cached := func(ctx context.Context, mode cache.ReadMode) (*ReturnPeriodResult, bool, error) {
		record, ok, err := s.store.ReturnPeriods(ctx, reachID, mode)
		if err != nil || !ok {
			return nil, false, err
		}
		return &ReturnPeriodResult{
			Freshness:  Freshness{StoredAt: record.StoredAt},
			ReachID:    reachID,
			Thresholds: record.Thresholds,
			Unit:       record.Unit,
		}, true, nil
	}

	refresh := func(ctx context.Context) (*ReturnPeriodResult, error) {
		payload, err := s.fetch(ctx, category, reachID)
		if err != nil {
			return nil, err
		}
		thresholds, unit, err := normalizeReturnPeriods(payload)
		if err != nil {
			return nil, &FetchError{Category: category, ReachID: reachID, Err: err}
		}
		storedAt, err := s.store.PutReturnPeriods(ctx, reachID, thresholds, unit)
		if err != nil {
			return nil, err
		}
		return &ReturnPeriodResult{
			Freshness:  Freshness{StoredAt: storedAt},
			ReachID:    reachID,
			Thresholds: thresholds,
			Unit:       unit,
		}, nil
	}

	res, err := resolve(ctx, s, category, reachID, cached, refresh)
	if err != nil {
		return nil, err
	}
	res.AdvisoryStale = s.policy.IsAdvisoryStale(res.StoredAt, s.now())
	return res, nil
}

// resolve runs the fallback state machine for one request.
func resolve[T any, R interface {
	*T
	result
}](
	ctx context.Context,
	s *ForecastService,
	category policy.Category,
	reachID string,
	cached func(context.Context, cache.ReadMode) (R, bool, error),
	refresh func(context.Context) (R, error),
) (R, error) {
	var zero R

	fresh, ok, err := cached(ctx, cache.FreshOnly)
	if err != nil {
		return zero, err
	}
	if ok {
		s.mark(category, fresh.freshness(), SourceCache, nil)
		return fresh, nil
	}

	if !s.probe.IsOnline(ctx) {
		return fallback(ctx, s, category, reachID, cached, ErrOffline)
	}

	fetched, err := s.refresh(ctx, category, reachID, func(ctx context.Context) (any, error) {
		return refresh(ctx)
	})
	if err == nil {
		// Coalesced callers share one result; each gets its own copy.
		own := *fetched.(R)
		res := R(&own)
		s.mark(category, res.freshness(), SourceNetwork, nil)
		return res, nil
	}

	var storageErr *cache.StorageError
	if errors.As(err, &storageErr) {
		return zero, err
	}
	return fallback(ctx, s, category, reachID, cached, err)
}

func fallback[T any, R interface {
	*T
	result
}](
	ctx context.Context,
	s *ForecastService,
	category policy.Category,
	reachID string,
	cached func(context.Context, cache.ReadMode) (R, bool, error),
	cause error,
) (R, error) {
	var zero R

	stale, ok, err := cached(ctx, cache.AllowStale)
	if err != nil {
		return zero, err
	}
	if !ok {
		metrics.FallbackResults.WithLabelValues(category.String(), "none").Inc()
		s.log.Warn("no cached data to fall back to",
			zap.String("category", category.String()),
			zap.String("reach_id", reachID),
			zap.Error(cause),
		)
		return zero, fmt.Errorf("%w: %s for reach %s: %w", ErrNoData, category, reachID, cause)
	}

	s.log.Warn("serving stale cached data",
		zap.String("category", category.String()),
		zap.String("reach_id", reachID),
		zap.Time("stored_at", stale.freshness().StoredAt),
		zap.Error(cause),
	)
	s.mark(category, stale.freshness(), SourceStale, cause)
	return stale, nil
}

func (s *ForecastService) mark(category policy.Category, meta *Freshness, source Source, cause error) {
	meta.Source = source
	meta.Degraded = source == SourceStale
	if cause != nil {
		meta.Reason = cause.Error()
	}
	metrics.FallbackResults.WithLabelValues(category.String(), string(source)).Inc()
}

// refresh runs fn, sharing one execution between concurrent callers of the same key when
// coalescing is enabled. A caller whose context ends stops waiting; the shared fetch itself
// stays bounded by the fetch timeout.
func (s *ForecastService) refresh(ctx context.Context, category policy.Category, reachID string, fn func(context.Context) (any, error)) (any, error) {
	if !s.coalesce {
		return fn(ctx)
	}

	key := category.String() + "/" + reachID
	ch := s.flight.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, &FetchError{Category: category, ReachID: reachID, Err: ctx.Err()}
	case res := <-ch:
		return res.Val, res.Err
	}
}

// fetch calls the upstream bounded by the fetch timeout. Every failure, including the
// timeout, comes back as a *FetchError.
func (s *ForecastService) fetch(ctx context.Context, category policy.Category, reachID string) (upstream.Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := time.Now()
	payload, err := s.fetcher.Fetch(ctx, category, reachID)
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.UpstreamFetchLatency.WithLabelValues(category.String(), status).Observe(time.Since(start).Seconds())

	if err != nil {
		return upstream.Payload{}, &FetchError{Category: category, ReachID: reachID, Err: err}
	}
	return payload, nil
}

func normaliseReach(reachID string) (string, error) {
	reachID = strings.TrimSpace(reachID)
	if !validator.IsReachID(reachID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReach, reachID)
	}
	return reachID, nil
}
