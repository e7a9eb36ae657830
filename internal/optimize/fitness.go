// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package optimize

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/recipe"
)

// minGenePercent is the share below which a panel material is dropped
// from the candidate recipe instead of appearing as a trace line.
const minGenePercent = 0.01

// scoredGenome pairs a genome with its evaluation, caching the
// prediction so result assembly does not re-run the forward model.
type scoredGenome struct {
	g          *genome
	loss       float64
	vec        *recipe.Vector
	pred       *forecast.Prediction
	violations []string
}

// evaluator scores genomes against one target specification.
type evaluator struct {
	transformer *recipe.Transformer
	predictor   Predictor
	spec        recipe.TargetSpec
	panel       []catalog.Material
	penalty     float64
	prohibited  map[string]bool

	// props fixes the summation order of target losses. Map iteration
	// order varies between runs and float addition is not associative,
	// so summing in map order would break seeded reproducibility.
	props []string
}

func newEvaluator(tr *recipe.Transformer, pred Predictor, spec recipe.TargetSpec, panel []catalog.Material, penalty float64) *evaluator {
	prohibited := make(map[string]bool, len(spec.Prohibited))
	for _, p := range spec.Prohibited {
		prohibited[strings.ToLower(strings.TrimSpace(p))] = true
	}
	props := make([]string, 0, len(spec.Targets))
	for prop := range spec.Targets {
		props = append(props, prop)
	}
	sort.Strings(props)
	return &evaluator{
		transformer: tr,
		predictor:   pred,
		spec:        spec,
		panel:       panel,
		penalty:     penalty,
		prohibited:  prohibited,
		props:       props,
	}
}

// scoreAll evaluates a population and returns it sorted by ascending
// loss. A genome whose recipe or prediction fails is kept with an
// infinite loss so it sorts last and cannot reproduce through elitism.
func (ev *evaluator) scoreAll(ctx context.Context, pop []*genome) []scoredGenome {
	scored := make([]scoredGenome, len(pop))
	for i, g := range pop {
		scored[i] = ev.score(ctx, g)
		if ctx.Err() != nil && i < len(pop)-1 {
			// Fill the remainder as unscorable and stop evaluating.
			for j := i + 1; j < len(pop); j++ {
				scored[j] = scoredGenome{g: pop[j], loss: math.Inf(1)}
			}
			break
		}
	}
	sortScored(scored)
	return scored
}

func (ev *evaluator) score(ctx context.Context, g *genome) scoredGenome {
	sg := scoredGenome{g: g, loss: math.Inf(1)}

	vec, err := ev.transformer.Transform(ev.toRecipe(g))
	if err != nil {
		return sg
	}
	pred, err := ev.predictor.Predict(ctx, vec.Features)
	if err != nil {
		return sg
	}
	sg.vec = vec
	sg.pred = pred
	sg.loss, sg.violations = ev.loss(vec, pred, g)
	return sg
}

// toRecipe renders a genome as a recipe, dropping trace genes.
func (ev *evaluator) toRecipe(g *genome) recipe.Recipe {
	comps := make([]recipe.Component, 0, len(g.genes))
	var sum float64
	for i, v := range g.genes {
		if v < minGenePercent {
			continue
		}
		comps = append(comps, recipe.Component{
			Code:    ev.panel[i].Code,
			Name:    ev.panel[i].Name,
			Percent: v,
		})
		sum += v
	}
	// Renormalize after dropping traces so the transformer's sum check
	// always passes.
	if sum > 0 {
		for i := range comps {
			comps[i].Percent = comps[i].Percent * 100 / sum
		}
	}
	return recipe.Recipe{Components: comps}
}

// loss computes the penalized objective: weighted target misses plus
// graded constraint penalties. Constraint violations penalize rather
// than disqualify, so the search can travel through infeasible regions
// toward feasible ones.
func (ev *evaluator) loss(vec *recipe.Vector, pred *forecast.Prediction, g *genome) (float64, []string) {
	var (
		total      float64
		violations []string
	)

	for _, prop := range ev.props {
		est, ok := pred.Values[prop]
		if !ok {
			continue
		}
		total += targetLoss(ev.spec.Targets[prop], est.Value)
	}

	if ev.spec.MaxCost > 0 {
		cost := vec.Feature(recipe.FeatureTheoreticalCost)
		if cost > ev.spec.MaxCost {
			total += ev.penalty * (cost - ev.spec.MaxCost) / ev.spec.MaxCost
			violations = append(violations, fmt.Sprintf("cost %.2f exceeds max %.2f", cost, ev.spec.MaxCost))
		}
	}
	if ev.spec.MinSolids > 0 {
		solids := vec.Feature(recipe.FeatureSolidsWeight)
		if solids < ev.spec.MinSolids {
			total += ev.penalty * (ev.spec.MinSolids - solids) / ev.spec.MinSolids
			violations = append(violations, fmt.Sprintf("solids %.1f%% below min %.1f%%", solids, ev.spec.MinSolids))
		}
	}
	if len(ev.prohibited) > 0 {
		for i, v := range g.genes {
			if v < minGenePercent {
				continue
			}
			m := ev.panel[i]
			if ev.prohibited[strings.ToLower(m.Code)] || ev.prohibited[strings.ToLower(m.Name)] {
				total += ev.penalty
				violations = append(violations, fmt.Sprintf("prohibited material %s present at %.1f%%", m.Code, v))
			}
		}
	}
	return total, violations
}

// targetLoss scores one property against its target, normalized by the
// target magnitude so properties on different scales are comparable.
func targetLoss(t recipe.Target, predicted float64) float64 {
	scale := math.Max(math.Abs(t.Value), 1)
	switch t.Direction {
	case recipe.DirectionMaximize:
		if predicted >= t.Value {
			return 0
		}
		return t.Weight * (t.Value - predicted) / scale
	case recipe.DirectionMinimize:
		if predicted <= t.Value {
			return 0
		}
		return t.Weight * (predicted - t.Value) / scale
	default:
		diff := math.Abs(predicted - t.Value)
		band := t.Tolerance * scale
		if diff <= band {
			return 0
		}
		return t.Weight * (diff - band) / scale
	}
}

// describe renders a scored genome as a result candidate.
func (ev *evaluator) describe(ctx context.Context, sg scoredGenome) Candidate {
	c := Candidate{
		Loss:       sg.loss,
		Violations: sg.violations,
	}
	if sg.vec != nil {
		c.Composition = sg.vec.Composition
	}
	if sg.pred != nil {
		c.Predicted = sg.pred.Values
	} else if sg.vec != nil {
		// Prediction missing only for unscorable genomes; try once more
		// for completeness of the report.
		if pred, err := ev.predictor.Predict(ctx, sg.vec.Features); err == nil {
			c.Predicted = pred.Values
		}
	}
	return c
}
