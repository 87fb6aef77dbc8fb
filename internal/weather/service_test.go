package weather_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/store"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

var paris = weather.Location{City: "Paris", Country: "FR"}

type fakeProvider struct {
	name     string
	readings []weather.ProviderReading
	err      error
	calls    atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) FetchForecast(_ context.Context, _ weather.Location, _ int) ([]weather.ProviderReading, error) {
	p.calls.Inc()
	if p.err != nil {
		return nil, p.err
	}
	return p.readings, nil
}

func hourly(name string, start time.Time, hours int, temp float64) []weather.ProviderReading {
	out := make([]weather.ProviderReading, 0, hours)
	for h := 0; h < hours; h++ {
		out = append(out, weather.ProviderReading{
			ProviderName: name,
			Timestamp:    start.Add(time.Duration(h) * time.Hour),
			TemperatureC: temp,
		})
	}
	return out
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newService(t *testing.T, c *clock, provs ...weather.Provider) (*weather.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(0, 0)
	return weather.NewService(st, provs, zap.NewNop().Sugar(), weather.WithClock(c.Now), weather.WithStaleAfter(time.Hour)), st
}

func TestFetchAndStoreAggregatesProviders(t *testing.T) {
	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	c := &clock{now: start}
	a := &fakeProvider{name: "a", readings: hourly("a", start, 24, 20)}
	b := &fakeProvider{name: "b", readings: hourly("b", start, 12, 24)}
	broken := &fakeProvider{name: "broken", err: errors.New("boom")}

	svc, _ := newService(t, c, a, b, broken)
	require.NoError(t, svc.FetchAndStore(context.Background(), paris))

	got, err := svc.GetForecast(context.Background(), paris, start, start.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 24)
	assert.InDelta(t, 22, got[0].Temperature, 1e-9)
	assert.InDelta(t, 20, got[23].Temperature, 1e-9)
	assert.False(t, svc.IsStale(paris))
}

func TestFetchAndStoreKeepsLastGoodForecast(t *testing.T) {
	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	c := &clock{now: start}
	p := &fakeProvider{name: "a", readings: hourly("a", start, 6, 18)}

	svc, st := newService(t, c, p)
	require.NoError(t, svc.FetchAndStore(context.Background(), paris))

	p.err = errors.New("upstream down")
	c.now = start.Add(2 * time.Hour)
	err := svc.FetchAndStore(context.Background(), paris)
	assert.ErrorIs(t, err, weather.ErrNoReadings)

	got, err := svc.GetForecast(context.Background(), paris, start, start.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 6)

	last, ok := st.LastFetched(paris)
	require.True(t, ok)
	assert.Equal(t, start, last)
	assert.True(t, svc.IsStale(paris))
}

func TestFetchAndStoreWithoutProviders(t *testing.T) {
	svc, _ := newService(t, &clock{now: time.Now()})
	assert.ErrorIs(t, svc.FetchAndStore(context.Background(), paris), weather.ErrNoProviders)
	assert.True(t, svc.IsStale(paris))
}

func TestRefreshIfStale(t *testing.T) {
	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	c := &clock{now: start}
	p := &fakeProvider{name: "a", readings: hourly("a", start, 3, 18)}
	svc, _ := newService(t, c, p)

	require.NoError(t, svc.RefreshIfStale(context.Background(), paris))
	assert.Equal(t, int32(1), p.calls.Load())

	c.now = start.Add(30 * time.Minute)
	require.NoError(t, svc.RefreshIfStale(context.Background(), paris))
	assert.Equal(t, int32(1), p.calls.Load())

	c.now = start.Add(61 * time.Minute)
	require.NoError(t, svc.RefreshIfStale(context.Background(), paris))
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestGetForecastHonoursContext(t *testing.T) {
	svc, _ := newService(t, &clock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.GetForecast(ctx, paris, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsStaleWhenForecastRunsOut(t *testing.T) {
	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	c := &clock{now: start}
	// Fresh fetch, but every reading is already in the past.
	p := &fakeProvider{name: "a", readings: hourly("a", start.Add(-6*time.Hour), 4, 18)}
	svc, _ := newService(t, c, p)

	require.NoError(t, svc.FetchAndStore(context.Background(), paris))
	assert.True(t, svc.IsStale(paris))

	p.readings = hourly("a", start, 4, 18)
	require.NoError(t, svc.RefreshIfStale(context.Background(), paris))
	assert.Equal(t, int32(2), p.calls.Load())
	assert.False(t, svc.IsStale(paris))
}
