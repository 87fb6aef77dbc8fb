package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/metrics"
)

// DefaultStaleAfter is how old the last successful fetch may get before a refresh is due.
const DefaultStaleAfter = 6 * time.Hour

var (
	// ErrNoProviders is returned when the service has nothing to fetch from.
	ErrNoProviders = errors.New("no weather providers configured")
	// ErrNoReadings is returned when every provider failed for a location.
	ErrNoReadings = errors.New("no successful provider readings")
)

// Service orchestrates fetching forecasts from multiple providers and persisting samples.
type Service struct {
	store        Store
	providers    []Provider
	logger       *zap.SugaredLogger
	staleAfter   time.Duration
	forecastDays int
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithForecastDays sets how many days each provider is asked for.
func WithForecastDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.forecastDays = days
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new Service.
func NewService(store Store, providers []Provider, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:        store,
		providers:    providers,
		logger:       logger,
		staleAfter:   DefaultStaleAfter,
		forecastDays: 7,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAndStore fetches forecasts from all providers concurrently for the given location,
// aggregates successful readings per hour, and stores the samples. When every provider
// fails, the last good samples are kept and ErrNoReadings is returned.
func (s *Service) FetchAndStore(ctx context.Context, loc Location) error {
	if len(s.providers) == 0 {
		return ErrNoProviders
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []ProviderReading
	)

	for _, p := range s.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()

			r, err := p.FetchForecast(ctx, loc, s.forecastDays)
			if err != nil {
				// Log and continue; we want partial success when possible.
				s.logger.Warnw("provider forecast failed", "provider", p.Name(), "location", loc.Key(), "error", err)
				metrics.ProviderFetchTotal.WithLabelValues(p.Name(), "error").Inc()
				return
			}
			metrics.ProviderFetchTotal.WithLabelValues(p.Name(), "ok").Inc()

			mu.Lock()
			readings = append(readings, r...)
			mu.Unlock()
		}(p)
	}

	wg.Wait()

	samples := AggregateReadings(readings)
	if len(samples) == 0 {
		s.logger.Warnw("no forecast readings; keeping last good samples", "location", loc.Key())
		return fmt.Errorf("%s: %w", loc.Key(), ErrNoReadings)
	}

	s.store.SaveSamples(loc, samples, s.now().UTC())
	s.logger.Infow("stored forecast", "location", loc.Key(), "samples", len(samples))
	return nil
}

// IsStale reports whether the location needs a new fetch: it was never
// fetched, its last successful fetch is older than the staleness threshold, or
// its newest sample is. The last rule catches a forecast that has run out.
func (s *Service) IsStale(loc Location) bool {
	now := s.now()
	last, ok := s.store.LastFetched(loc)
	if !ok || now.Sub(last) > s.staleAfter {
		return true
	}
	latest, ok := s.store.LatestSample(loc)
	return !ok || now.Sub(latest) > s.staleAfter
}

// RefreshIfStale fetches a new forecast only when the stored one is stale.
func (s *Service) RefreshIfStale(ctx context.Context, loc Location) error {
	if !s.IsStale(loc) {
		return nil
	}
	return s.FetchAndStore(ctx, loc)
}

// GetForecast returns stored samples for loc within [start, end]. It never
// calls providers, so request paths are not blocked by slow upstreams.
func (s *Service) GetForecast(ctx context.Context, loc Location, start, end time.Time) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.GetRange(loc, start, end)
}
