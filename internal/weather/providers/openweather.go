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

// OpenWeatherProvider implements the weather.Provider interface for the
// OpenWeatherMap 5 day / 3 hour forecast.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5/forecast",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: defaultBackoff,
		},
		circuit: newCircuitBreaker("openweather"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openweather api key is not configured")
	}

	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	// 8 slots of 3 hours per day.
	values.Set("cnt", strconv.Itoa(days*8))
	if loc.HasCoordinates() {
		values.Set("lat", fmt.Sprintf("%f", *loc.Lat))
		values.Set("lon", fmt.Sprintf("%f", *loc.Lon))
	} else {
		q := loc.City
		if loc.Country != "" {
			q = fmt.Sprintf("%s,%s", loc.City, loc.Country)
		}
		values.Set("q", q)
	}

	var payload struct {
		List []struct {
			Dt   int64 `json:"dt"`
			Main struct {
				Temp float64 `json:"temp"`
			} `json:"main"`
			Wind struct {
				Speed float64 `json:"speed"`
			} `json:"wind"`
			Rain struct {
				ThreeH float64 `json:"3h"`
			} `json:"rain"`
		} `json:"list"`
	}

	if err := getJSON(ctx, p.httpCfg, p.circuit, p.baseURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}

	readings := make([]weather.ProviderReading, 0, len(payload.List))
	for _, item := range payload.List {
		if item.Dt == 0 {
			continue
		}
		readings = append(readings, weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    time.Unix(item.Dt, 0).UTC(),
			TemperatureC: item.Main.Temp,
			PrecipMm:     item.Rain.ThreeH,
			// metric units report m/s
			WindSpeedKmh: item.Wind.Speed * 3.6,
		})
	}
	return readings, nil
}
