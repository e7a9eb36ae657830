// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package recipe

import (
	"github.com/rs/zerolog"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/logging"
)

// TransformerOptions configure recipe-to-vector conversion.
type TransformerOptions struct {
	// Strict rejects recipes containing material codes the catalog does
	// not know. When false, unknown components are dropped with a warning
	// and the remainder is renormalized.
	Strict bool

	// SumTolerance is the allowed deviation of the percentage sum from
	// 100. Zero means the 0.5 default.
	SumTolerance float64
}

// Transformer converts recipes into fixed-order feature vectors using
// material attributes from the catalog. Chemical attributes enter as
// ratio-weighted averages within their class, so adding a new material to
// the catalog never changes the vector layout.
type Transformer struct {
	cat    *catalog.Catalog
	strict bool
	tol    float64
	logger zerolog.Logger
}

// NewTransformer creates a transformer over a material catalog.
func NewTransformer(cat *catalog.Catalog, opts TransformerOptions) *Transformer {
	tol := opts.SumTolerance
	if tol <= 0 {
		tol = 0.5
	}
	return &Transformer{
		cat:    cat,
		strict: opts.Strict,
		tol:    tol,
		logger: logging.With().Str("component", "transformer").Logger(),
	}
}

// Transform converts a recipe into a feature vector. It fails with a
// ValidationError when the recipe is empty, a percentage is negative, or
// the percentages do not sum to ~100 within tolerance.
func (t *Transformer) Transform(r Recipe) (*Vector, error) {
	if len(r.Components) == 0 {
		return nil, newValidationError("", "recipe has no components")
	}

	total := r.Total()
	for _, c := range r.Components {
		if c.Percent < 0 {
			return nil, newValidationError(c.Code, "negative percentage %.2f", c.Percent)
		}
	}
	if total < 100-t.tol || total > 100+t.tol {
		return nil, newValidationError("", "percentages sum to %.2f, want 100 ± %.2f", total, t.tol)
	}

	known, err := t.resolve(r)
	if err != nil {
		return nil, err
	}
	if len(known) == 0 {
		return nil, newValidationError("", "no components matched the material catalog")
	}

	return t.vectorize(known), nil
}

// resolvedComponent is a component joined with its catalog record.
type resolvedComponent struct {
	Component
	mat catalog.Material
}

// resolve joins components with the catalog, dropping or rejecting
// unknown codes per the strictness setting.
func (t *Transformer) resolve(r Recipe) ([]resolvedComponent, error) {
	known := make([]resolvedComponent, 0, len(r.Components))
	for _, c := range r.Components {
		mat, ok := t.cat.Get(c.Code)
		if !ok {
			if t.strict {
				return nil, newValidationError(c.Code, "unknown material code")
			}
			t.logger.Warn().Str("code", c.Code).Msg("dropping unknown material")
			continue
		}
		known = append(known, resolvedComponent{Component: c, mat: mat})
	}
	return known, nil
}

// vectorize computes the feature vector over resolved components. Ratios
// are normalized over the known total, so dropped unknowns do not skew
// the class aggregates.
func (t *Transformer) vectorize(comps []resolvedComponent) *Vector {
	var knownTotal float64
	for _, c := range comps {
		knownTotal += c.Percent
	}

	classSums := classWeights{}
	// Ratio-weighted attribute sums, normalized per class afterwards.
	var ohSum, mwSum, tgSum, oilSum, psSum, bpSum, evapSum float64
	var solidsWeight, cost float64
	var volume, solidsVolume float64

	composition := make([]Component, 0, len(comps))

	for _, c := range comps {
		ratio := c.Percent / knownTotal
		class := c.mat.Class()
		classSums[class] += ratio

		switch class {
		case catalog.CategoryBinder:
			ohSum += c.mat.OHValue * ratio
			mwSum += c.mat.MolecularWeight * ratio
			tgSum += c.mat.GlassTransition * ratio
		case catalog.CategoryPigment:
			oilSum += c.mat.OilAbsorption * ratio
			psSum += c.mat.ParticleSize * ratio
		case catalog.CategorySolvent:
			bpSum += c.mat.BoilingPoint * ratio
			evapSum += c.mat.EvaporationRate * ratio
		}

		solids := c.mat.SolidContent
		if solids == 0 && class != catalog.CategorySolvent {
			solids = 100
		}
		solidsWeight += solids * ratio

		if c.mat.Density > 0 {
			vol := ratio / c.mat.Density
			volume += vol
			solidsVolume += vol * solids / 100
		}

		cost += c.mat.UnitPrice * ratio

		name := c.Name
		if name == "" {
			name = c.mat.Name
		}
		composition = append(composition, Component{
			Code:    c.Code,
			Name:    name,
			Percent: ratio * 100,
		})
	}

	features := make([]float64, FeatureCount)
	features[featureIndex[FeatureBinderRatio]] = classSums[catalog.CategoryBinder]
	features[featureIndex[FeaturePigmentRatio]] = classSums[catalog.CategoryPigment]
	features[featureIndex[FeatureSolventRatio]] = classSums[catalog.CategorySolvent]
	features[featureIndex[FeatureAdditiveRatio]] = classSums[catalog.CategoryAdditive]

	if b := classSums[catalog.CategoryBinder]; b > 0 {
		features[featureIndex[FeaturePigmentBinderRatio]] = classSums[catalog.CategoryPigment] / b
		features[featureIndex[FeatureAvgOHValue]] = ohSum / b
		features[featureIndex[FeatureAvgMolecularWeight]] = mwSum / b
		features[featureIndex[FeatureAvgGlassTransition]] = tgSum / b
	}
	if p := classSums[catalog.CategoryPigment]; p > 0 {
		features[featureIndex[FeatureAvgOilAbsorption]] = oilSum / p
		features[featureIndex[FeatureAvgParticleSize]] = psSum / p
	}
	if s := classSums[catalog.CategorySolvent]; s > 0 {
		features[featureIndex[FeatureAvgBoilingPoint]] = bpSum / s
		features[featureIndex[FeatureAvgEvaporationRate]] = evapSum / s
	}

	features[featureIndex[FeatureSolidsWeight]] = solidsWeight
	if volume > 0 {
		features[featureIndex[FeatureSolidsVolume]] = solidsVolume / volume * 100
	}
	features[featureIndex[FeatureTheoreticalCost]] = cost

	return &Vector{Features: features, Composition: composition}
}

// Cost computes the theoretical unit cost of a recipe against the catalog
// without building a full vector. Unknown materials contribute nothing.
func (t *Transformer) Cost(r Recipe) float64 {
	total := r.Total()
	if total <= 0 {
		return 0
	}
	var cost float64
	for _, c := range r.Components {
		if mat, ok := t.cat.Get(c.Code); ok {
			cost += mat.UnitPrice * c.Percent / total
		}
	}
	return cost
}
