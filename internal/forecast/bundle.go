// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package forecast

import (
	"errors"
	"fmt"
	"time"
)

// BundleVersion is bumped whenever the serialized layout changes.
// Restore rejects mismatched versions so a stale snapshot falls back to
// a fresh retrain instead of silently loading garbage coefficients.
const BundleVersion = 1

// Bundle is the persistable snapshot of a trained EnsembleLearner.
type Bundle struct {
	Version     int                     `json:"version"`
	Scope       string                  `json:"scope"`
	SampleCount int                     `json:"sample_count"`
	TrainedAt   time.Time               `json:"trained_at"`
	Properties  []string                `json:"properties"`
	Scaler      *scaler                 `json:"scaler"`
	Targets     map[string]*targetModel `json:"targets"`
	TrainScaled [][]float64             `json:"train_scaled"`
}

// ErrBundleVersion indicates a snapshot from an incompatible layout.
var ErrBundleVersion = errors.New("forecast: incompatible bundle version")

// Snapshot exports the current model state, or nil when untrained.
func (l *EnsembleLearner) Snapshot() *Bundle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.trained || l.state == nil {
		return nil
	}
	st := l.state
	return &Bundle{
		Version:     BundleVersion,
		Scope:       l.scope,
		SampleCount: st.sampleCount,
		TrainedAt:   st.trainedAt,
		Properties:  st.properties,
		Scaler:      st.scaler,
		Targets:     st.targets,
		TrainScaled: st.trainScaled,
	}
}

// Restore replaces model state from a snapshot.
func (l *EnsembleLearner) Restore(b *Bundle) error {
	if b == nil {
		return errors.New("forecast: nil bundle")
	}
	if b.Version != BundleVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrBundleVersion, b.Version, BundleVersion)
	}
	if b.Scaler == nil || len(b.Targets) == 0 {
		return errors.New("forecast: bundle missing scaler or targets")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = &modelState{
		targets:     b.Targets,
		scaler:      b.Scaler,
		trainScaled: b.TrainScaled,
		sampleCount: b.SampleCount,
		trainedAt:   b.TrainedAt,
		properties:  b.Properties,
	}
	l.trained = true
	return nil
}
