package weather

import (
	"context"
	"time"
)

// ProviderReading represents a single provider's normalized hourly forecast
// reading that can be aggregated into a Sample.
type ProviderReading struct {
	ProviderName string
	Timestamp    time.Time

	TemperatureC float64
	PrecipMm     float64
	WindSpeedKmh float64
}

// Provider abstracts a weather data source (e.g. Open-Meteo, WeatherAPI, OpenWeatherMap).
type Provider interface {
	Name() string
	FetchForecast(ctx context.Context, loc Location, days int) ([]ProviderReading, error)
}

// Store is the contract the in-memory sample store (and any future persistent store) must satisfy.
type Store interface {
	SaveSamples(loc Location, samples []Sample, fetchedAt time.Time)
	GetRange(loc Location, from, to time.Time) ([]Sample, error)
	LastFetched(loc Location) (time.Time, bool)
	// LatestSample returns the timestamp of the newest stored sample.
	LatestSample(loc Location) (time.Time, bool)
}
