package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/watering-scheduler/internal/api/http"
	"github.com/i474232898/watering-scheduler/internal/scheduler"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with background forecast refresh and schedule reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	// Scheduler that periodically refreshes forecasts and sweeps schedules.
	sched := scheduler.New(a.logger)
	if err := sched.Add(scheduler.WeatherRefreshTask(a.weather, []weather.Location{cfg.Location}, cfg.FetchInterval, cfg.RetryDelay, a.logger)); err != nil {
		return err
	}
	if err := sched.Add(scheduler.ReconcileTask(a.reconciler, a.weather, cfg.Location, cfg.ReconcileInterval, cfg.RetryDelay, a.logger)); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "watering-scheduler",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "watering-scheduler",
			"tasks":   sched.States(),
			"stale":   a.weather.IsStale(cfg.Location),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, httpapi.Handlers{
		Forecast:   a.weather,
		Location:   cfg.Location,
		Catalogue:  a.gardens,
		Gardens:    a.cached,
		Schedules:  a.schedules,
		Reconciler: a.reconciler,
		Overviews:  a.overviews,
		Logger:     a.logger,
	})

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infow("http server listening", "port", cfg.Port)
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Errorw("error during shutdown", "error", err)
	}
	return nil
}
