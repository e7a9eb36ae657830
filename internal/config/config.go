// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package config defines the Formetric configuration model and its
// koanf-based loader. Configuration is layered: struct defaults, then an
// optional YAML file, then FORMETRIC_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Formetric service.
type Config struct {
	Server      ServerConfig      `koanf:"server" validate:"required"`
	Logging     LoggingConfig     `koanf:"logging"`
	Store       StoreConfig       `koanf:"store" validate:"required"`
	Transformer TransformerConfig `koanf:"transformer"`
	Forecast    ForecastConfig    `koanf:"forecast"`
	Optimizer   OptimizerConfig   `koanf:"optimizer"`
	Knowledge   KnowledgeConfig   `koanf:"knowledge"`
	Router      RouterConfig      `koanf:"router"`
	Trainer     TrainerConfig     `koanf:"trainer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitRequests caps requests per client IP per window on the
	// /api/v1 surface. Zero disables rate limiting.
	RateLimitRequests int `koanf:"rate_limit_requests" validate:"min=0"`

	// RateLimitWindow is the rate limit window. Default: 1m
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Dir is the BadgerDB data directory. Empty means in-memory, used by
	// tests and ephemeral deployments.
	Dir string `koanf:"dir"`

	// CatalogCacheSize bounds the material catalog lookup cache.
	CatalogCacheSize int `koanf:"catalog_cache_size" validate:"min=1"`

	// CatalogCacheTTL expires cached catalog entries.
	CatalogCacheTTL time.Duration `koanf:"catalog_cache_ttl"`
}

// TransformerConfig controls recipe-to-vector conversion.
type TransformerConfig struct {
	// Strict rejects recipes containing unknown material codes. When
	// false, unknown components are dropped with a warning.
	Strict bool `koanf:"strict"`

	// SumTolerance is the allowed deviation of component percentages
	// from 100.
	SumTolerance float64 `koanf:"sum_tolerance" validate:"gt=0"`
}

// ForecastConfig controls the forward-model learners.
type ForecastConfig struct {
	// MinSamples is the minimum training-set size before a learner fits.
	MinSamples int `koanf:"min_samples" validate:"min=2"`

	// GlobalMinSamples is the minimum training-set size for the global
	// learner, which aggregates across projects and needs more data.
	GlobalMinSamples int `koanf:"global_min_samples" validate:"min=2"`

	// EnsembleSize is the number of bootstrap members per target model.
	EnsembleSize int `koanf:"ensemble_size" validate:"min=1,max=64"`

	// Ridge is the L2 regularization strength.
	Ridge float64 `koanf:"ridge" validate:"gte=0"`

	// BlendFullWeight is the project sample count at which blended
	// predictions stop consulting the global model.
	BlendFullWeight int `koanf:"blend_full_weight" validate:"min=1"`

	// Seed drives bootstrap resampling for reproducible training.
	Seed int64 `koanf:"seed"`
}

// OptimizerConfig controls the genetic recipe search.
type OptimizerConfig struct {
	PopulationSize int     `koanf:"population_size" validate:"min=4"`
	Generations    int     `koanf:"generations" validate:"min=1"`
	MutationRate   float64 `koanf:"mutation_rate" validate:"gt=0,lte=1"`
	TournamentK    int     `koanf:"tournament_k" validate:"min=2"`
	EliteCount     int     `koanf:"elite_count" validate:"min=0"`
	TopK           int     `koanf:"top_k" validate:"min=1"`

	// PlateauGenerations terminates the search early after this many
	// generations without fitness improvement.
	PlateauGenerations int `koanf:"plateau_generations" validate:"min=1"`

	// ConstraintPenalty is the fixed fitness penalty added to candidates
	// violating a hard constraint.
	ConstraintPenalty float64 `koanf:"constraint_penalty" validate:"gt=0"`
}

// KnowledgeConfig holds knowledge-base settings.
type KnowledgeConfig struct {
	// Path is the chemical knowledge document location on disk.
	Path string `koanf:"path"`
}

// RouterConfig controls hybrid online/local routing.
type RouterConfig struct {
	// Mode is the routing mode: auto, local, or online.
	Mode string `koanf:"mode" validate:"omitempty,oneof=auto local online"`

	// Endpoint is the online prediction service base URL.
	Endpoint string `koanf:"endpoint" validate:"omitempty,url"`

	// Timeout bounds every online call.
	Timeout time.Duration `koanf:"timeout"`

	// HealthPath is probed by AUTO mode reachability checks.
	HealthPath string `koanf:"health_path"`

	// RatePerSecond limits outbound online-service calls.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gt=0"`
}

// TrainerConfig controls the background training worker.
type TrainerConfig struct {
	// Debounce collapses rapid retrain triggers into one run.
	Debounce time.Duration `koanf:"debounce"`

	// RefreshInterval schedules periodic retraining. Zero disables it.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// Default returns the built-in default configuration. Useful for tests
// and embedding callers that bypass the file/env loader.
func Default() *Config { return defaultConfig() }

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3861,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,

			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Dir:              "/data/formetric",
			CatalogCacheSize: 4096,
			CatalogCacheTTL:  15 * time.Minute,
		},
		Transformer: TransformerConfig{
			Strict:       false,
			SumTolerance: 0.5,
		},
		Forecast: ForecastConfig{
			MinSamples:       3,
			GlobalMinSamples: 10,
			EnsembleSize:     10,
			Ridge:            1.0,
			BlendFullWeight:  10,
			Seed:             42,
		},
		Optimizer: OptimizerConfig{
			PopulationSize:     50,
			Generations:        30,
			MutationRate:       0.1,
			TournamentK:        3,
			EliteCount:         5,
			TopK:               5,
			PlateauGenerations: 8,
			ConstraintPenalty:  500,
		},
		Knowledge: KnowledgeConfig{
			Path: "/data/formetric/chemical_knowledge.json",
		},
		Router: RouterConfig{
			Mode:          "auto",
			Endpoint:      "",
			Timeout:       5 * time.Second,
			HealthPath:    "/healthz",
			RatePerSecond: 5,
		},
		Trainer: TrainerConfig{
			Debounce:        300 * time.Millisecond,
			RefreshInterval: 30 * time.Minute,
		},
	}
}

// Validate checks structural constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Optimizer.EliteCount >= c.Optimizer.PopulationSize {
		return fmt.Errorf("config validation: elite_count %d must be below population_size %d",
			c.Optimizer.EliteCount, c.Optimizer.PopulationSize)
	}
	if c.Optimizer.TournamentK > c.Optimizer.PopulationSize {
		return fmt.Errorf("config validation: tournament_k %d exceeds population_size %d",
			c.Optimizer.TournamentK, c.Optimizer.PopulationSize)
	}
	if c.Forecast.GlobalMinSamples < c.Forecast.MinSamples {
		return fmt.Errorf("config validation: global_min_samples %d below min_samples %d",
			c.Forecast.GlobalMinSamples, c.Forecast.MinSamples)
	}
	if c.Router.Mode == "online" && c.Router.Endpoint == "" {
		return fmt.Errorf("config validation: router mode online requires an endpoint")
	}

	return nil
}
