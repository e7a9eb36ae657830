// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package forecast implements the forward model: regression ensembles
// that map a recipe feature vector to predicted performance values.
//
// Three interchangeable learner strategies share the Learner contract:
//
//   - project learner, trained only on one project's samples
//   - global learner, aggregating samples across all projects
//   - blended learner, weighting project and global predictions by the
//     project's sample count so sparse projects still get usable estimates
//
// # Thread Safety
//
// All learners are safe for concurrent use. Training acquires an
// exclusive lock while prediction uses a shared lock.
package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/formetric/formetric/internal/recipe"
)

var (
	// ErrModelNotTrained is returned by Predict before the first
	// successful training run.
	ErrModelNotTrained = errors.New("forecast: model not trained")

	// ErrInsufficientData is returned by Train when the sample count is
	// below the learner's threshold. The call is a no-op: model state is
	// unchanged. Logged, non-fatal.
	ErrInsufficientData = errors.New("forecast: insufficient training data")
)

// Estimate is a single-property prediction.
type Estimate struct {
	// Value is the point estimate.
	Value float64 `json:"value"`

	// Confidence in [0, 1], derived from fit quality, ensemble variance,
	// and local sample density around the query vector.
	Confidence float64 `json:"confidence"`

	// Lower and Upper bound the 95% interval.
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Prediction holds per-property estimates for one vector.
type Prediction struct {
	// Scope identifies the model that produced the estimates: a project
	// id, "global", or "blended".
	Scope string `json:"scope"`

	// Values maps property name to estimate.
	Values map[string]Estimate `json:"values"`
}

// Status is last-training metadata for observability. Reading it never
// requires a fresh prediction call.
type Status struct {
	Scope       string                        `json:"scope"`
	Trained     bool                          `json:"trained"`
	SampleCount int                           `json:"sample_count"`
	TrainedAt   time.Time                     `json:"trained_at,omitzero"`
	MinSamples  int                           `json:"min_samples"`
	Properties  []string                      `json:"properties,omitempty"`
	FitQuality  map[string]float64            `json:"fit_quality,omitempty"`
	Importances map[string]map[string]float64 `json:"importances,omitempty"`
}

// Learner is the common forecasting contract implemented by the scope
// variants. Callers hold a Learner and never branch on the concrete type.
type Learner interface {
	// Name identifies the strategy ("project", "global", "blended").
	Name() string

	// Train fits one regressor per target property present in the
	// samples. With fewer samples than the threshold it leaves state
	// unchanged and returns ErrInsufficientData.
	Train(ctx context.Context, samples []recipe.TrainingSample) error

	// Predict returns per-property estimates for a feature vector, or
	// ErrModelNotTrained before the first successful training.
	Predict(ctx context.Context, features []float64) (*Prediction, error)

	// Status returns last-training metadata.
	Status() Status

	// IsTrained reports whether a successful training has completed.
	IsTrained() bool
}

// Interface conformance.
var (
	_ Learner = (*EnsembleLearner)(nil)
	_ Learner = (*BlendedLearner)(nil)
)
