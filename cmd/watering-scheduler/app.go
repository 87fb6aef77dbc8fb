package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/i474232898/watering-scheduler/internal/cache"
	"github.com/i474232898/watering-scheduler/internal/config"
	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/locker"
	"github.com/i474232898/watering-scheduler/internal/schedule"
	"github.com/i474232898/watering-scheduler/internal/store"
	"github.com/i474232898/watering-scheduler/internal/weather"
	"github.com/i474232898/watering-scheduler/internal/weather/providers"
)

// app is the wired service shared by the serve and reconcile commands.
type app struct {
	cfg    *config.AppConfig
	logger *zap.SugaredLogger

	db      *gorm.DB
	redis   *redis.Client
	gardens *store.GardenStore
	cached  *garden.CachedDirectory

	schedules  *store.ScheduleStore
	weather    *weather.Service
	reconciler *schedule.Reconciler
	overviews  *schedule.OverviewBuilder
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if level == "debug" {
		l, err = zap.NewDevelopment()
	} else {
		zcfg := zap.NewProductionConfig()
		if lvl, perr := zap.ParseAtomicLevel(level); perr == nil {
			zcfg.Level = lvl
		}
		l, err = zcfg.Build()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		gardens:   store.NewGardenStore(db),
		schedules: store.NewScheduleStore(db),
	}

	// Redis is optional; without it cache and locks stay in-process.
	var (
		c     cache.Cache    = cache.NewMemory()
		locks locker.Locker = locker.NewLocal()
	)
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		c = cache.NewRedis(a.redis, "watering:")
		locks = locker.NewRedis(a.redis, "watering:lock:", time.Minute, logger)
		logger.Infow("using redis for cache and locks", "addr", cfg.RedisAddr)
	}
	a.cached = garden.NewCachedDirectory(a.gardens, c, cfg.CacheTTL, logger)

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// Providers with resilience (backoff + circuit breaker). Open-Meteo needs
	// no key; coordinates come from config or the geocoder.
	provs := []weather.Provider{
		providers.NewOpenMeteoProvider(httpClient, providers.GoogleGeocoder(cfg.GeocoderAPIKey)),
	}
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey))
	}
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey))
	}

	samples := store.NewMemoryStore(cfg.StoreMaxSamples, cfg.StoreMaxAge)
	a.weather = weather.NewService(samples, provs, logger, weather.WithStaleAfter(cfg.ForecastStaleAfter))

	deps := schedule.Deps{
		Store:    a.schedules,
		Gardens:  a.cached,
		Profiles: a.gardens,
		Forecast: a.weather,
		Locks:    locks,
		Logger:   logger,
	}
	a.reconciler = schedule.NewReconciler(deps, cfg.Location)
	a.overviews = schedule.NewOverviewBuilder(deps, cfg.Location)

	return a, nil
}

// Close releases external connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnw("closing redis", "error", err)
		}
	}
	if err := store.Close(a.db); err != nil {
		a.logger.Warnw("closing database", "error", err)
	}
	_ = a.logger.Sync()
}
