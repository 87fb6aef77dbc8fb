package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/schedule"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

// Task names.
const (
	TaskWeatherRefresh = "weather_refresh"
	TaskReconcile      = "schedule_reconcile"
)

// fetchTimeout bounds one location's fetch.
const fetchTimeout = 30 * time.Second

// WeatherFetcher refreshes stored forecasts.
type WeatherFetcher interface {
	FetchAndStore(ctx context.Context, loc weather.Location) error
	RefreshIfStale(ctx context.Context, loc weather.Location) error
}

// Reconciler sweeps every user's schedule.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (schedule.Report, error)
}

// WeatherRefreshTask fetches the forecast of every location concurrently.
// The run fails only when every location failed.
func WeatherRefreshTask(svc WeatherFetcher, locations []weather.Location, interval, retryDelay time.Duration, logger *zap.SugaredLogger) *Task {
	return &Task{
		Name:        TaskWeatherRefresh,
		Interval:    interval,
		MaxAttempts: 3,
		RetryDelay:  retryDelay,
		Run: func(ctx context.Context) error {
			logger.Info("scheduler: running weather fetch job")

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				errs []error
			)
			for _, loc := range locations {
				wg.Add(1)
				go func(loc weather.Location) {
					defer wg.Done()

					ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
					defer cancel()

					if err := svc.FetchAndStore(ctx, loc); err != nil {
						logger.Warnw("scheduler: fetch failed", "location", loc.Key(), "error", err)
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s: %w", loc.Key(), err))
						mu.Unlock()
					}
				}(loc)
			}
			wg.Wait()

			if len(locations) > 0 && len(errs) == len(locations) {
				return errors.Join(errs...)
			}
			logger.Infow("scheduler: completed weather fetch job", "locations", len(locations), "failed", len(errs))
			return nil
		},
	}
}

// ReconcileTask refreshes a stale forecast, then reconciles all schedules.
// A forecast that cannot be refreshed does not block the sweep.
func ReconcileTask(rec Reconciler, svc WeatherFetcher, loc weather.Location, interval, retryDelay time.Duration, logger *zap.SugaredLogger) *Task {
	return &Task{
		Name:        TaskReconcile,
		Interval:    interval,
		MaxAttempts: 2,
		RetryDelay:  retryDelay,
		Run: func(ctx context.Context) error {
			if svc != nil {
				if err := svc.RefreshIfStale(ctx, loc); err != nil {
					logger.Warnw("scheduler: forecast refresh before sweep failed", "location", loc.Key(), "error", err)
				}
			}
			rep, err := rec.ReconcileAll(ctx)
			if err != nil {
				return fmt.Errorf("reconcile schedules: %w", err)
			}
			logger.Infow("scheduler: completed reconciliation sweep",
				"writes", rep.Writes(), "failed", rep.Count(schedule.StatusFailed))
			return nil
		},
	}
}
