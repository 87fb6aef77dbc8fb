package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

type AppConfig struct {
	Port         string `validate:"required,numeric"`
	DatabasePath string `validate:"required"`
	LogLevel     string `validate:"oneof=debug info warn error"`

	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string

	// Location is where the gardens are; forecasts are fetched for it.
	Location weather.Location

	FetchInterval      time.Duration `validate:"gte=1m"`
	ReconcileInterval  time.Duration `validate:"gte=1m"`
	RetryDelay         time.Duration `validate:"gt=0"`
	HTTPTimeout        time.Duration `validate:"gt=0"`
	ForecastStaleAfter time.Duration `validate:"gt=0"`

	// Sample store retention.
	StoreMaxSamples int           `validate:"gte=0"` // 0 = unlimited
	StoreMaxAge     time.Duration `validate:"gte=0"` // 0 = unlimited

	CacheTTL time.Duration `validate:"gt=0"`

	// Redis is optional; without it cache and locks are in-process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
}

// Load reads configuration from environment (and .env when present) with
// defaults, then validates it.
func Load() (*AppConfig, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := &AppConfig{
		Port:              getenvDefault("PORT", "8080"),
		DatabasePath:      getenvDefault("DATABASE_PATH", "watering.db"),
		LogLevel:          strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		WeatherAPIKey:     os.Getenv("WEATHERAPI_API_KEY"),
		GeocoderAPIKey:    os.Getenv("GEOCODER_API_KEY"),
		StoreMaxSamples:   getenvInt("STORE_MAX_SAMPLES", 24*14),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getenvInt("REDIS_DB", 0),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"FETCH_INTERVAL", "15m", &cfg.FetchInterval},
		{"RECONCILE_INTERVAL", "1h", &cfg.ReconcileInterval},
		{"RETRY_DELAY", "30s", &cfg.RetryDelay},
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"FORECAST_STALE_AFTER", "6h", &cfg.ForecastStaleAfter},
		{"STORE_MAX_AGE", "240h", &cfg.StoreMaxAge},
		{"CACHE_TTL", "5m", &cfg.CacheTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	loc, err := loadLocation()
	if err != nil {
		return nil, err
	}
	cfg.Location = loc

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadLocation() (weather.Location, error) {
	loc := weather.Location{
		City:    strings.TrimSpace(os.Getenv("WEATHER_LOCATION_CITY")),
		Country: strings.TrimSpace(os.Getenv("WEATHER_LOCATION_COUNTRY")),
	}

	lat, lon := os.Getenv("WEATHER_LAT"), os.Getenv("WEATHER_LON")
	if (lat == "") != (lon == "") {
		return loc, fmt.Errorf("WEATHER_LAT and WEATHER_LON must be set together")
	}
	if lat != "" {
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil || la < -90 || la > 90 {
			return loc, fmt.Errorf("invalid WEATHER_LAT %q", lat)
		}
		lo, err := strconv.ParseFloat(lon, 64)
		if err != nil || lo < -180 || lo > 180 {
			return loc, fmt.Errorf("invalid WEATHER_LON %q", lon)
		}
		loc.Lat, loc.Lon = &la, &lo
	}

	if loc.City == "" && !loc.HasCoordinates() {
		return loc, fmt.Errorf("either WEATHER_LOCATION_CITY or WEATHER_LAT/WEATHER_LON is required")
	}
	return loc, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
