package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"marketintel/internal/api"
	"marketintel/internal/app"
	"marketintel/internal/config"
	"marketintel/internal/engine"
	"marketintel/internal/util"
)

// jobDrainTimeout bounds how long running jobs may finish after a signal.
const jobDrainTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, logger, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialising components")
	}
	defer a.Close()

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	eng := a.Engine(engine.WithPublisher(hub))

	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:     eng,
		Forecaster: a.Runner,
		Analyzer:   a.Analyzer,
		Catalog:    a.Catalog,
		Hub:        hub,
		Gatherer:   reg,
		Logger:     logger,
	})

	logger.Info().
		Str("http", cfg.Server.HTTPAddr()).
		Str("grpc", cfg.Server.GRPCAddr()).
		Int("max_concurrent_runs", cfg.Engine.MaxConcurrentRuns).
		Msg("marketintel-server starting")

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
	}

	drainCtx, done := context.WithTimeout(context.Background(), jobDrainTimeout)
	defer done()
	if err := eng.Close(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("jobs still running at exit")
	}
	logger.Info().Msg("marketintel-server stopped")
}
