// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package metrics provides Prometheus metrics collection for observability.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format.
//
// Prediction metrics:
//   - forecast_predictions_total{scope, outcome}
//   - forecast_training_runs_total{scope, outcome}
//   - forecast_training_duration_seconds{scope}
//   - forecast_training_samples{scope}
//
// Optimizer metrics:
//   - optimizer_runs_total{outcome}
//   - optimizer_generations: generations executed per run (histogram)
//   - optimizer_duration_seconds
//
// Router metrics:
//   - router_requests_total{source}
//   - router_fallbacks_total{reason}
//   - router_breaker_state: 0 closed, 1 half-open, 2 open
//
// HTTP metrics:
//   - api_requests_total{method, path, status}
//   - api_request_duration_seconds{method, path}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionsTotal counts forward-model predictions by scope and outcome.
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_predictions_total",
		Help: "Total forward-model predictions",
	}, []string{"scope", "outcome"})

	// TrainingRunsTotal counts training runs by scope and outcome.
	TrainingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_training_runs_total",
		Help: "Total training runs",
	}, []string{"scope", "outcome"})

	// TrainingDuration observes training latency per scope.
	TrainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forecast_training_duration_seconds",
		Help:    "Training run duration",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
	}, []string{"scope"})

	// TrainingSamples tracks the sample count of the last training run.
	TrainingSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forecast_training_samples",
		Help: "Samples used by the last training run",
	}, []string{"scope"})

	// OptimizerRunsTotal counts optimization runs by outcome
	// (ok, infeasible, cancelled).
	OptimizerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optimizer_runs_total",
		Help: "Total optimizer runs",
	}, []string{"outcome"})

	// OptimizerGenerations observes generations executed per run.
	OptimizerGenerations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "optimizer_generations",
		Help:    "Generations executed per optimizer run",
		Buckets: []float64{5, 10, 15, 20, 25, 30, 50, 100},
	})

	// OptimizerDuration observes optimizer run latency.
	OptimizerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "optimizer_duration_seconds",
		Help:    "Optimizer run duration",
		Buckets: []float64{.1, .5, 1, 5, 10, 30, 60},
	})

	// RouterRequestsTotal counts routed requests by the source that
	// actually served them (online, local, fallback).
	RouterRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_requests_total",
		Help: "Total routed requests by serving source",
	}, []string{"source"})

	// RouterFallbacksTotal counts fallbacks by reason
	// (timeout, breaker_open, bad_response, unreachable).
	RouterFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_fallbacks_total",
		Help: "Total router fallbacks by reason",
	}, []string{"reason"})

	// RouterBreakerState reports the online-service circuit breaker state.
	RouterBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
	})

	// APIRequestsTotal counts HTTP requests by method, path, and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total HTTP API requests",
	}, []string{"method", "path", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "HTTP API request duration",
		Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"method", "path"})

	// KnowledgeWritesTotal counts knowledge-base persistence attempts.
	KnowledgeWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_writes_total",
		Help: "Knowledge-base write attempts",
	}, []string{"outcome"})

	// CatalogCacheHits counts material catalog cache hits and misses.
	CatalogCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_requests_total",
		Help: "Material catalog cache lookups",
	}, []string{"result"})
)
