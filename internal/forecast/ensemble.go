// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/metrics"
	"github.com/formetric/formetric/internal/recipe"
)

// Options configures an EnsembleLearner.
type Options struct {
	// MinSamples is the training threshold. Below it Train is a no-op
	// returning ErrInsufficientData.
	MinSamples int

	// EnsembleSize is the number of bootstrap members per property.
	EnsembleSize int

	// Ridge is the L2 regularization strength λ.
	Ridge float64

	// Seed makes bootstrap resampling reproducible.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.MinSamples <= 0 {
		o.MinSamples = 3
	}
	if o.EnsembleSize <= 0 {
		o.EnsembleSize = 10
	}
	if o.Ridge <= 0 {
		o.Ridge = 1.0
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	return o
}

// EnsembleLearner is a bagged ridge-regression forward model covering
// one sample scope (a single project, or the global pool). Training
// rebuilds the model from scratch each run: there is no incremental
// fit, so a corrupted sample never leaves a permanent imprint.
type EnsembleLearner struct {
	name  string
	scope string
	opts  Options

	mu      sync.RWMutex
	state   *modelState
	trained bool
}

// modelState is the immutable result of one training run. Predict reads
// it under RLock; Train swaps the whole pointer so readers never see a
// half-built model.
type modelState struct {
	targets     map[string]*targetModel
	scaler      *scaler
	trainScaled [][]float64 // standardized training vectors, for query density
	sampleCount int
	trainedAt   time.Time
	properties  []string
}

// NewProjectLearner builds a learner scoped to one project's samples.
func NewProjectLearner(projectID string, opts Options) *EnsembleLearner {
	return &EnsembleLearner{name: "project", scope: projectID, opts: opts.withDefaults()}
}

// NewGlobalLearner builds a learner over the cross-project pool. The
// caller supplies the (higher) global threshold through opts.
func NewGlobalLearner(opts Options) *EnsembleLearner {
	return &EnsembleLearner{name: "global", scope: "global", opts: opts.withDefaults()}
}

// Name implements Learner.
func (l *EnsembleLearner) Name() string { return l.name }

// IsTrained implements Learner.
func (l *EnsembleLearner) IsTrained() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trained
}

// Train implements Learner. Properties are fitted one at a time;
// cancellation between properties commits whatever has been fitted so
// far, provided at least one property succeeded.
func (l *EnsembleLearner) Train(ctx context.Context, samples []recipe.TrainingSample) error {
	start := time.Now()
	if len(samples) < l.opts.MinSamples {
		return fmt.Errorf("%w: scope %s has %d samples, need %d",
			ErrInsufficientData, l.scope, len(samples), l.opts.MinSamples)
	}

	rows := make([][]float64, 0, len(samples))
	results := make([]map[string]float64, 0, len(samples))
	for _, s := range samples {
		if len(s.Features) != recipe.FeatureCount {
			logging.Warn().
				Str("component", "forecast").
				Str("scope", l.scope).
				Str("sample_id", s.ID).
				Int("features", len(s.Features)).
				Msg("Skipping sample with wrong feature dimension")
			continue
		}
		rows = append(rows, s.Features)
		results = append(results, s.Results)
	}
	if len(rows) < l.opts.MinSamples {
		return fmt.Errorf("%w: scope %s has %d usable samples, need %d",
			ErrInsufficientData, l.scope, len(rows), l.opts.MinSamples)
	}

	sc := fitScaler(rows, recipe.FeatureCount)
	rng := rand.New(rand.NewSource(l.opts.Seed)) //nolint:gosec // reproducible bootstrap, not security

	next := &modelState{
		targets:     make(map[string]*targetModel),
		scaler:      sc,
		sampleCount: len(rows),
		trainedAt:   time.Now().UTC(),
	}
	next.trainScaled = make([][]float64, len(rows))
	for i, r := range rows {
		next.trainScaled[i] = sc.apply(r)
	}

	var cancelled bool
	for _, prop := range propertyUnion(results) {
		if err := ctx.Err(); err != nil {
			cancelled = true
			break
		}
		var (
			propRows [][]float64
			propY    []float64
		)
		for i, res := range results {
			if v, ok := res[prop]; ok && !math.IsNaN(v) {
				propRows = append(propRows, rows[i])
				propY = append(propY, v)
			}
		}
		if len(propRows) < l.opts.MinSamples {
			continue
		}
		tm, err := fitTarget(propRows, propY, sc, recipe.FeatureNames, l.opts.EnsembleSize, l.opts.Ridge, rng)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("component", "forecast").
				Str("scope", l.scope).
				Str("property", prop).
				Msg("Property fit failed, skipping")
			continue
		}
		next.targets[prop] = tm
		next.properties = append(next.properties, prop)
	}

	if len(next.targets) == 0 {
		if cancelled {
			return ctx.Err()
		}
		return fmt.Errorf("%w: scope %s produced no fittable properties", ErrInsufficientData, l.scope)
	}

	l.mu.Lock()
	l.state = next
	l.trained = true
	l.mu.Unlock()

	metrics.TrainingRunsTotal.WithLabelValues(l.name, "success").Inc()
	metrics.TrainingDuration.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	metrics.TrainingSamples.WithLabelValues(l.name).Set(float64(next.sampleCount))

	logging.Info().
		Str("component", "forecast").
		Str("scope", l.scope).
		Int("samples", next.sampleCount).
		Int("properties", len(next.targets)).
		Bool("partial", cancelled).
		Dur("duration", time.Since(start)).
		Msg("Model trained")
	return nil
}

// Predict implements Learner.
func (l *EnsembleLearner) Predict(_ context.Context, features []float64) (*Prediction, error) {
	l.mu.RLock()
	st := l.state
	trained := l.trained
	l.mu.RUnlock()

	if !trained || st == nil {
		metrics.PredictionsTotal.WithLabelValues(l.name, "not_trained").Inc()
		return nil, fmt.Errorf("%w: scope %s", ErrModelNotTrained, l.scope)
	}

	scaled := st.scaler.apply(features)
	density := st.queryDensity(scaled)
	sampleFactor := float64(st.sampleCount) / (float64(st.sampleCount) + 5)

	pred := &Prediction{
		Scope:  l.scope,
		Values: make(map[string]Estimate, len(st.targets)),
	}
	for prop, tm := range st.targets {
		mean, variance := tm.evaluate(scaled)
		std := math.Sqrt(variance)

		// Coefficient of variation, scale-guarded for near-zero means.
		cv := std / math.Max(math.Abs(mean), 1)
		conf := clamp01(tm.FitQuality * sampleFactor * (1 / (1 + cv)) * (0.5 + 0.5*density))

		pred.Values[prop] = Estimate{
			Value:      mean,
			Confidence: conf,
			Lower:      mean - 1.96*std,
			Upper:      mean + 1.96*std,
		}
	}
	metrics.PredictionsTotal.WithLabelValues(l.name, "success").Inc()
	return pred, nil
}

// queryDensity maps the distance from the query to its nearest training
// vectors into (0, 1]: 1 on top of a training point, decaying as the
// query moves into unsampled regions of feature space.
func (st *modelState) queryDensity(scaled []float64) float64 {
	if len(st.trainScaled) == 0 {
		return 0
	}
	dists := make([]float64, len(st.trainScaled))
	for i, tr := range st.trainScaled {
		var d2 float64
		for j := range tr {
			diff := scaled[j] - tr[j]
			d2 += diff * diff
		}
		dists[i] = math.Sqrt(d2)
	}
	sort.Float64s(dists)
	k := 3
	if len(dists) < k {
		k = len(dists)
	}
	var avg float64
	for _, d := range dists[:k] {
		avg += d
	}
	avg /= float64(k)
	return 1 / (1 + avg)
}

// Status implements Learner.
func (l *EnsembleLearner) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Status{
		Scope:      l.scope,
		Trained:    l.trained,
		MinSamples: l.opts.MinSamples,
	}
	if l.state == nil {
		return s
	}
	s.SampleCount = l.state.sampleCount
	s.TrainedAt = l.state.trainedAt
	s.Properties = slices.Clone(l.state.properties)
	s.FitQuality = make(map[string]float64, len(l.state.targets))
	s.Importances = make(map[string]map[string]float64, len(l.state.targets))
	for prop, tm := range l.state.targets {
		s.FitQuality[prop] = tm.FitQuality
		imp := make(map[string]float64, len(tm.Importances))
		for k, v := range tm.Importances {
			imp[k] = v
		}
		s.Importances[prop] = imp
	}
	return s
}

// propertyUnion returns the sorted set of result keys, preferring the
// well-known property order and appending any project-specific extras.
func propertyUnion(results []map[string]float64) []string {
	seen := make(map[string]bool)
	for _, res := range results {
		for k := range res {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for _, p := range recipe.DefaultProperties {
		if seen[p] {
			out = append(out, p)
			delete(seen, p)
		}
	}
	extras := make([]string, 0, len(seen))
	for k := range seen {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	return append(out, extras...)
}
