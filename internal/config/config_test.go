// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name: "elite count at population size",
			mutate: func(c *Config) {
				c.Optimizer.EliteCount = c.Optimizer.PopulationSize
			},
			wantErr: true,
		},
		{
			name: "tournament larger than population",
			mutate: func(c *Config) {
				c.Optimizer.TournamentK = c.Optimizer.PopulationSize + 1
			},
			wantErr: true,
		},
		{
			name: "global threshold below project threshold",
			mutate: func(c *Config) {
				c.Forecast.GlobalMinSamples = c.Forecast.MinSamples - 1
			},
			wantErr: true,
		},
		{
			name: "online mode without endpoint",
			mutate: func(c *Config) {
				c.Router.Mode = "online"
				c.Router.Endpoint = ""
			},
			wantErr: true,
		},
		{
			name: "online mode with endpoint",
			mutate: func(c *Config) {
				c.Router.Mode = "online"
				c.Router.Endpoint = "http://predict.example.com"
			},
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: true,
		},
		{
			name: "zero mutation rate",
			mutate: func(c *Config) {
				c.Optimizer.MutationRate = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9911
optimizer:
  population_size: 24
  top_k: 3
router:
  timeout: 2s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9911 {
		t.Errorf("Server.Port = %d, want 9911", cfg.Server.Port)
	}
	if cfg.Optimizer.PopulationSize != 24 {
		t.Errorf("Optimizer.PopulationSize = %d, want 24", cfg.Optimizer.PopulationSize)
	}
	if cfg.Optimizer.TopK != 3 {
		t.Errorf("Optimizer.TopK = %d, want 3", cfg.Optimizer.TopK)
	}
	if cfg.Router.Timeout != 2*time.Second {
		t.Errorf("Router.Timeout = %v, want 2s", cfg.Router.Timeout)
	}
	// Untouched defaults survive
	if cfg.Forecast.MinSamples != 3 {
		t.Errorf("Forecast.MinSamples = %d, want default 3", cfg.Forecast.MinSamples)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/config.yaml"); err == nil {
		t.Fatal("LoadFile() with missing file should error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FORMETRIC_SERVER_PORT", "4040")
	t.Setenv("FORMETRIC_TRANSFORMER_SUM_TOLERANCE", "1.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 4040 {
		t.Errorf("Server.Port = %d, want 4040 from env", cfg.Server.Port)
	}
	if cfg.Transformer.SumTolerance != 1.5 {
		t.Errorf("Transformer.SumTolerance = %v, want 1.5 from env", cfg.Transformer.SumTolerance)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"FORMETRIC_SERVER_PORT", "server.port"},
		{"FORMETRIC_ROUTER_HEALTH_PATH", "router.health_path"},
		{"FORMETRIC_FORECAST_MIN_SAMPLES", "forecast.min_samples"},
	}

	for _, tt := range tests {
		if got := envTransform(tt.input); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
