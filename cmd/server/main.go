// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package main is the entry point for the Formetric server.
//
// Formetric learns coating performance (gloss, hardness, adhesion and
// the rest of the property set) from lab trial data and searches for
// formulations that hit a target specification at minimum cost. The
// server exposes a REST API for recording trials, predicting recipe
// performance, running the genetic optimizer, and querying the
// chemistry knowledge base.
//
// Components start in the following order:
//
//  1. Configuration: Koanf v2 layering defaults, config.yaml, and
//     FORMETRIC_-prefixed environment variables
//  2. Store: BadgerDB holding trial samples, model bundles, and the
//     material catalog
//  3. Knowledge base: chemistry rules and material property data
//  4. Trainer: per-project and global model registries, rehydrated
//     from persisted bundles
//  5. Router: online/local prediction path selection
//  6. HTTP server: chi REST API plus /metrics
//
// The trainer and HTTP server run under a suture supervision tree and
// restart independently on failure. SIGINT and SIGTERM trigger a
// graceful shutdown: the listener stops accepting connections,
// in-flight requests drain within the shutdown timeout, and any
// training run in progress is canceled.
//
// Example usage:
//
//	export FORMETRIC_STORE_DIR=/data/formetric
//	export FORMETRIC_SERVER_PORT=3861
//	./formetric-server
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/formetric/formetric/internal/api"
	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/config"
	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/knowledge"
	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/router"
	"github.com/formetric/formetric/internal/store"
	"github.com/formetric/formetric/internal/supervisor"
	"github.com/formetric/formetric/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors surface through the default logger.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_dir", cfg.Store.Dir).
		Str("router_mode", cfg.Router.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Formetric")

	st, err := store.OpenWithOptions(store.Options{
		Path:             cfg.Store.Dir,
		CatalogCacheSize: cfg.Store.CatalogCacheSize,
		CatalogCacheTTL:  cfg.Store.CatalogCacheTTL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	materials, err := st.Materials(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load material catalog")
	}
	cat := catalog.New(materials)
	if cat.Len() == 0 {
		logging.Warn().Msg("Material catalog is empty; populate it via PUT /api/v1/materials before predicting or optimizing")
	} else {
		logging.Info().Int("materials", cat.Len()).Msg("Material catalog loaded")
	}

	kb := knowledge.Open(cfg.Knowledge.Path)
	logging.Info().Str("path", cfg.Knowledge.Path).Msg("Knowledge base opened")

	trainer := worker.New(st, worker.Options{
		Debounce:        cfg.Trainer.Debounce,
		RefreshInterval: cfg.Trainer.RefreshInterval,
		Forecast: forecast.Options{
			MinSamples:   cfg.Forecast.MinSamples,
			EnsembleSize: cfg.Forecast.EnsembleSize,
			Ridge:        cfg.Forecast.Ridge,
			Seed:         cfg.Forecast.Seed,
		},
		GlobalMinSamples: cfg.Forecast.GlobalMinSamples,
		BlendFullWeight:  cfg.Forecast.BlendFullWeight,
	})
	if err := trainer.Restore(ctx); err != nil {
		logging.Warn().Err(err).Msg("Model restore incomplete; models retrain from stored samples")
	}
	if err := trainer.ScheduleStored(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to queue startup training pass")
	}

	rt := router.New(router.Options{
		Mode: router.Mode(cfg.Router.Mode),
		Online: router.ClientOptions{
			Endpoint:      cfg.Router.Endpoint,
			HealthPath:    cfg.Router.HealthPath,
			Timeout:       cfg.Router.Timeout,
			RatePerSecond: cfg.Router.RatePerSecond,
		},
		Recommender: kb,
	}, trainer, st)

	handler := api.NewHandler(cfg, st, kb, trainer, rt, cat)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervisor events flow through the zerolog pipeline via the slog
	// adapter.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddTrainingService(trainer)
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor closes the channel.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Formetric stopped gracefully")
}
