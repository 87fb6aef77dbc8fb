package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/forecast.json",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: defaultBackoff,
		},
		circuit: newCircuitBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("weatherapi api key is not configured")
	}

	values := url.Values{}
	values.Set("key", p.apiKey)
	values.Set("days", strconv.Itoa(days))
	// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
	if loc.HasCoordinates() {
		values.Set("q", fmt.Sprintf("%f,%f", *loc.Lat, *loc.Lon))
	} else {
		q := loc.City
		if loc.Country != "" {
			q = fmt.Sprintf("%s,%s", loc.City, loc.Country)
		}
		values.Set("q", q)
	}

	var payload struct {
		Forecast struct {
			ForecastDay []struct {
				Hour []struct {
					TimeEpoch int64   `json:"time_epoch"`
					TempC     float64 `json:"temp_c"`
					PrecipMm  float64 `json:"precip_mm"`
					WindKph   float64 `json:"wind_kph"`
				} `json:"hour"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}

	if err := getJSON(ctx, p.httpCfg, p.circuit, p.baseURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}

	var readings []weather.ProviderReading
	for _, day := range payload.Forecast.ForecastDay {
		for _, h := range day.Hour {
			if h.TimeEpoch == 0 {
				continue
			}
			readings = append(readings, weather.ProviderReading{
				ProviderName: p.name,
				Timestamp:    time.Unix(h.TimeEpoch, 0).UTC(),
				TemperatureC: h.TempC,
				PrecipMm:     h.PrecipMm,
				WindSpeedKmh: h.WindKph,
			})
		}
	}
	return readings, nil
}
