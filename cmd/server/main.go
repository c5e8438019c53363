/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the margin engine server. Handles configuration,
  dependency injection, the periodic recompute scheduler, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML file + env overrides)
  2. Configure structured logging
  3. Initialize SQLite store
  4. Wire the forecast engine, recompute service, debouncer and planner
  5. Start the cron scheduler
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to the YAML config file (default: config.yaml; a missing
           file falls back to defaults + env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the cron scheduler (waits for an in-flight recompute)
  2. Cancel pending debounce timers
  3. Stop accepting new connections, drain active requests (30s timeout)
  4. Close the database

SEE ALSO:
  - config/config.go: Configuration shape and defaults
  - api/server.go: Router configuration
  - recompute/scheduler.go: Periodic recompute
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/margin-engine/api"
	"github.com/warp/margin-engine/budget"
	"github.com/warp/margin-engine/config"
	"github.com/warp/margin-engine/engine"
	"github.com/warp/margin-engine/forecast"
	"github.com/warp/margin-engine/recompute"
	"github.com/warp/margin-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := newLogger(cfg.Log)

	// Store
	store, err := sqlite.New(cfg.Storage.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Engines
	forecaster := forecast.NewEngine(cfg.Forecast.MaturityDays)
	forecaster.Calibrator.BaselineRatio = cfg.Forecast.BaselineRatio

	service := &recompute.Service{
		Orders:     store,
		Costs:      store,
		Products:   store,
		Snapshots:  store,
		Runs:       store,
		Forecaster: forecaster,
		Log:        log,
		Workers:    cfg.Recompute.Workers,
	}
	debouncer := recompute.NewDebouncer(service, cfg.DebounceDelay(), cfg.Recompute.TrailingDays, log)
	scheduler := recompute.NewScheduler(service, cfg.Recompute.CronSpec, cfg.Recompute.TrailingDays, log)
	planner := budget.NewPlanner(engine.MustParseDecimal(cfg.Budget.SpendGranularity))

	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start recompute scheduler")
	}

	// HTTP
	handler := api.NewHandler(store, service, debouncer, planner, log)
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr()).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	scheduler.Stop()
	debouncer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}
	log.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
