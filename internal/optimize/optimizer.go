// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package optimize searches recipe space for formulations that meet a
// target specification, using a genetic algorithm over a material panel
// drawn from the catalog. Predicted performance comes from the forward
// model; the optimizer itself never looks at raw training samples.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/metrics"
	"github.com/formetric/formetric/internal/recipe"
)

// Predictor is the slice of the forward model the optimizer needs.
type Predictor interface {
	Predict(ctx context.Context, features []float64) (*forecast.Prediction, error)
	IsTrained() bool
}

// ErrPredictorNotTrained is returned by Run when the forward model has
// not been trained: without predictions there is nothing to score.
var ErrPredictorNotTrained = errors.New("optimize: forward model not trained")

// Options tunes the genetic algorithm.
type Options struct {
	PopulationSize     int
	Generations        int
	MutationRate       float64
	TournamentK        int
	EliteCount         int
	TopK               int
	PlateauGenerations int
	ConstraintPenalty  float64
	Seed               int64
}

func (o Options) withDefaults() Options {
	if o.PopulationSize <= 0 {
		o.PopulationSize = 50
	}
	if o.Generations <= 0 {
		o.Generations = 30
	}
	if o.MutationRate <= 0 {
		o.MutationRate = 0.1
	}
	if o.TournamentK <= 0 {
		o.TournamentK = 3
	}
	if o.EliteCount <= 0 {
		o.EliteCount = 5
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.PlateauGenerations <= 0 {
		o.PlateauGenerations = 8
	}
	if o.ConstraintPenalty <= 0 {
		o.ConstraintPenalty = 500
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	return o
}

// Candidate is one ranked formulation from a finished run.
type Candidate struct {
	// Composition lists panel materials with non-trivial percentages,
	// normalized to sum to 100.
	Composition []recipe.Component `json:"composition"`

	// Predicted maps property name to the forward-model estimate.
	Predicted map[string]forecast.Estimate `json:"predicted"`

	// Loss is the penalized objective value. Lower is better; zero
	// means every target was met within tolerance.
	Loss float64 `json:"loss"`

	// Violations lists constraint breaches in human-readable form.
	Violations []string `json:"violations,omitempty"`
}

// Result is the outcome of one optimization run.
type Result struct {
	Candidates []Candidate `json:"candidates"`

	// Infeasible is set when even the best candidate violates a hard
	// constraint. Candidates are still returned so the caller can see
	// how close the search got.
	Infeasible bool `json:"infeasible"`

	// Generations actually executed.
	Generations int `json:"generations"`

	// Termination is "budget", "plateau", or "cancelled".
	Termination string `json:"termination"`

	Elapsed time.Duration `json:"elapsed"`
}

// Optimizer runs genetic search over a fixed material panel. Safe for
// concurrent use; each Run gets its own rng stream derived from the
// configured seed.
type Optimizer struct {
	panel       []catalog.Material
	transformer *recipe.Transformer
	predictor   Predictor
	opts        Options
	logger      zerolog.Logger
}

// New builds an optimizer over the catalog's default panel.
func New(cat *catalog.Catalog, tr *recipe.Transformer, pred Predictor, opts Options) (*Optimizer, error) {
	panel := cat.Panel()
	if len(panel) < 2 {
		return nil, fmt.Errorf("optimize: panel has %d materials, need at least 2", len(panel))
	}
	return &Optimizer{
		panel:       panel,
		transformer: tr,
		predictor:   pred,
		opts:        opts.withDefaults(),
		logger:      logging.Logger().With().Str("component", "optimize").Logger(),
	}, nil
}

// plateauEpsilon is the minimum loss improvement that counts as
// progress for plateau detection.
const plateauEpsilon = 1e-9

// Run executes the genetic search for one target specification.
// Cancellation is honored between generations: the best population
// found so far is returned with Termination = "cancelled".
func (o *Optimizer) Run(ctx context.Context, spec recipe.TargetSpec) (*Result, error) {
	start := time.Now()
	if !o.predictor.IsTrained() {
		metrics.OptimizerRunsTotal.WithLabelValues("untrained").Inc()
		return nil, ErrPredictorNotTrained
	}
	spec = spec.Normalized()
	if err := spec.Validate(); err != nil {
		metrics.OptimizerRunsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	rng := rand.New(rand.NewSource(o.opts.Seed)) //nolint:gosec // reproducible search, not security
	ev := newEvaluator(o.transformer, o.predictor, spec, o.panel, o.opts.ConstraintPenalty)

	pop := make([]*genome, o.opts.PopulationSize)
	for i := range pop {
		pop[i] = randomGenome(o.panel, rng)
	}
	scored := ev.scoreAll(ctx, pop)

	var (
		bestLoss    = scored[0].loss
		sinceImprov int
		generations int
		termination = "budget"
	)

loop:
	for gen := 0; gen < o.opts.Generations; gen++ {
		if ctx.Err() != nil {
			termination = "cancelled"
			break loop
		}
		generations = gen + 1

		next := make([]*genome, 0, o.opts.PopulationSize)
		for i := 0; i < o.opts.EliteCount && i < len(scored); i++ {
			next = append(next, scored[i].g.clone())
		}
		decay := 1 - 0.5*float64(gen)/float64(o.opts.Generations)
		for len(next) < o.opts.PopulationSize {
			p1 := tournament(scored, o.opts.TournamentK, rng)
			p2 := tournament(scored, o.opts.TournamentK, rng)
			child := crossover(p1, p2, rng)
			child.mutate(o.opts.MutationRate, decay, rng)
			child.repair(o.panel)
			next = append(next, child)
		}

		scored = ev.scoreAll(ctx, next)

		if bestLoss-scored[0].loss > plateauEpsilon {
			bestLoss = scored[0].loss
			sinceImprov = 0
		} else {
			sinceImprov++
			if sinceImprov >= o.opts.PlateauGenerations {
				termination = "plateau"
				break loop
			}
		}
	}

	result := o.collect(ctx, ev, scored, generations, termination, start)
	metrics.OptimizerRunsTotal.WithLabelValues(outcomeLabel(result)).Inc()
	metrics.OptimizerGenerations.Observe(float64(result.Generations))
	metrics.OptimizerDuration.Observe(result.Elapsed.Seconds())

	o.logger.Info().
		Int("generations", result.Generations).
		Str("termination", result.Termination).
		Float64("best_loss", result.Candidates[0].Loss).
		Bool("infeasible", result.Infeasible).
		Dur("elapsed", result.Elapsed).
		Msg("Optimization finished")
	return result, nil
}

// collect ranks the final population and assembles the result.
func (o *Optimizer) collect(ctx context.Context, ev *evaluator, scored []scoredGenome, generations int, termination string, start time.Time) *Result {
	k := o.opts.TopK
	if k > len(scored) {
		k = len(scored)
	}
	result := &Result{
		Generations: generations,
		Termination: termination,
		Elapsed:     time.Since(start),
	}
	seen := make(map[string]bool, k)
	for _, sg := range scored {
		if len(result.Candidates) >= k {
			break
		}
		key := sg.g.fingerprint()
		if seen[key] {
			continue
		}
		seen[key] = true
		result.Candidates = append(result.Candidates, ev.describe(ctx, sg))
	}
	if len(result.Candidates) > 0 && len(result.Candidates[0].Violations) > 0 {
		result.Infeasible = true
	}
	return result
}

// tournament picks the best of k uniformly sampled genomes.
func tournament(scored []scoredGenome, k int, rng *rand.Rand) *genome {
	best := scored[rng.Intn(len(scored))]
	for i := 1; i < k; i++ {
		c := scored[rng.Intn(len(scored))]
		if c.loss < best.loss {
			best = c
		}
	}
	return best.g
}

func outcomeLabel(r *Result) string {
	switch {
	case r.Termination == "cancelled":
		return "cancelled"
	case r.Infeasible:
		return "infeasible"
	default:
		return "ok"
	}
}

// sortScored orders genomes by ascending loss.
func sortScored(scored []scoredGenome) {
	sort.Slice(scored, func(i, j int) bool { return scored[i].loss < scored[j].loss })
}
