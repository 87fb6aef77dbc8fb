package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/sony/gobreaker"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

var errNoGeocoderKey = errors.New("geocoder api key is not configured")

// GeocodeFunc resolves a location to latitude/longitude.
type GeocodeFunc func(loc weather.Location) (lat, lon float64, err error)

// GoogleGeocoder resolves city/country through the Google Geocoding API.
func GoogleGeocoder(apiKey string) GeocodeFunc {
	return func(loc weather.Location) (float64, float64, error) {
		if apiKey == "" {
			return 0, 0, errNoGeocoderKey
		}
		geocoder.ApiKey = apiKey
		res, err := geocoder.Geocoding(geocoder.Address{
			City:    loc.City,
			Country: loc.Country,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("geocode %s: %w", loc.Key(), err)
		}
		return res.Latitude, res.Longitude, nil
	}
}

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo's
// hourly forecast. Open-Meteo needs coordinates; locations without them are
// geocoded once and cached.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	geocode GeocodeFunc

	mu     sync.Mutex
	coords map[string][2]float64
}

func NewOpenMeteoProvider(client *http.Client, geocode GeocodeFunc) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: defaultBackoff,
		},
		circuit: newCircuitBreaker("openmeteo"),
		geocode: geocode,
		coords:  make(map[string][2]float64),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) resolve(loc weather.Location) (float64, float64, error) {
	if loc.HasCoordinates() {
		return *loc.Lat, *loc.Lon, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.coords[loc.Key()]; ok {
		return c[0], c[1], nil
	}
	if p.geocode == nil {
		return 0, 0, fmt.Errorf("openmeteo requires latitude and longitude")
	}
	lat, lon, err := p.geocode(loc)
	if err != nil {
		return 0, 0, err
	}
	p.coords[loc.Key()] = [2]float64{lat, lon}
	return lat, lon, nil
}

func (p *OpenMeteoProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	lat, lon, err := p.resolve(loc)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	values.Set("hourly", "temperature_2m,precipitation,wind_speed_10m")
	values.Set("wind_speed_unit", "kmh")
	values.Set("timezone", "UTC")
	values.Set("forecast_days", strconv.Itoa(days))

	var payload struct {
		Hourly struct {
			Time          []string   `json:"time"`
			Temperature   []*float64 `json:"temperature_2m"`
			Precipitation []*float64 `json:"precipitation"`
			WindSpeed     []*float64 `json:"wind_speed_10m"`
		} `json:"hourly"`
	}

	if err := getJSON(ctx, p.httpCfg, p.circuit, p.baseURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}

	h := payload.Hourly
	if len(h.Temperature) != len(h.Time) || len(h.Precipitation) != len(h.Time) || len(h.WindSpeed) != len(h.Time) {
		return nil, fmt.Errorf("openmeteo: mismatched hourly series lengths")
	}

	readings := make([]weather.ProviderReading, 0, len(h.Time))
	for i, raw := range h.Time {
		// Hours with gaps in any series are dropped rather than zero-filled.
		if h.Temperature[i] == nil || h.Precipitation[i] == nil || h.WindSpeed[i] == nil {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02T15:04", raw, time.UTC)
		if err != nil {
			continue
		}
		readings = append(readings, weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    ts,
			TemperatureC: *h.Temperature[i],
			PrecipMm:     *h.Precipitation[i],
			WindSpeedKmh: *h.WindSpeed[i],
		})
	}
	return readings, nil
}
