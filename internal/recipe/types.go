// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package recipe defines the formulation data model (recipes, feature
// vectors, target specifications, training samples) and the transformer
// that turns a recipe into a fixed-order numeric vector.
package recipe

import (
	"time"

	"github.com/formetric/formetric/internal/catalog"
)

// Feature names, in vector order. The order is part of the persisted
// model contract: vectors written by one version must score identically
// when read by another.
const (
	FeatureBinderRatio   = "total_binder_ratio"
	FeaturePigmentRatio  = "total_pigment_ratio"
	FeatureSolventRatio  = "total_solvent_ratio"
	FeatureAdditiveRatio = "total_additive_ratio"

	FeaturePigmentBinderRatio = "pigment_binder_ratio"
	FeatureSolidsVolume       = "solid_content_vol"
	FeatureSolidsWeight       = "solid_content_weight"

	FeatureAvgOHValue         = "avg_oh_value"
	FeatureAvgMolecularWeight = "avg_molecular_weight"
	FeatureAvgGlassTransition = "avg_glass_transition"
	FeatureAvgOilAbsorption   = "avg_oil_absorption"
	FeatureAvgParticleSize    = "avg_particle_size"

	FeatureAvgBoilingPoint    = "avg_boiling_point"
	FeatureAvgEvaporationRate = "avg_evaporation_rate"

	FeatureTheoreticalCost = "theoretical_cost"
)

// FeatureNames is the canonical vector layout.
var FeatureNames = []string{
	FeatureBinderRatio,
	FeaturePigmentRatio,
	FeatureSolventRatio,
	FeatureAdditiveRatio,
	FeaturePigmentBinderRatio,
	FeatureSolidsVolume,
	FeatureSolidsWeight,
	FeatureAvgOHValue,
	FeatureAvgMolecularWeight,
	FeatureAvgGlassTransition,
	FeatureAvgOilAbsorption,
	FeatureAvgParticleSize,
	FeatureAvgBoilingPoint,
	FeatureAvgEvaporationRate,
	FeatureTheoreticalCost,
}

// FeatureCount is the fixed vector width.
var FeatureCount = len(FeatureNames)

// featureIndex maps a feature name to its vector position.
var featureIndex = func() map[string]int {
	idx := make(map[string]int, len(FeatureNames))
	for i, name := range FeatureNames {
		idx[name] = i
	}
	return idx
}()

// Component is one material line of a recipe.
type Component struct {
	Code    string  `json:"code"`
	Name    string  `json:"name,omitempty"`
	Percent float64 `json:"percent"`
}

// Recipe is a formulation expressed as materials with percentages.
type Recipe struct {
	Components []Component `json:"components"`
}

// Total returns the sum of component percentages.
func (r Recipe) Total() float64 {
	var total float64
	for _, c := range r.Components {
		total += c.Percent
	}
	return total
}

// Vector is the fixed-order numeric representation of a recipe. Besides
// the features it carries the normalized composition, so optimizer
// candidates can be rendered back into human-readable recipes.
type Vector struct {
	// Features holds FeatureCount values in FeatureNames order.
	Features []float64 `json:"features"`

	// Composition is the recipe normalized to sum 100, restricted to
	// materials the catalog knows.
	Composition []Component `json:"composition"`
}

// Feature returns a named feature value.
func (v *Vector) Feature(name string) float64 {
	if i, ok := featureIndex[name]; ok && i < len(v.Features) {
		return v.Features[i]
	}
	return 0
}

// CategorySum returns the sum of the four category-aggregate features,
// as a percentage. For a valid vector this equals the recipe total share
// of classified materials (100 within tolerance).
func (v *Vector) CategorySum() float64 {
	return (v.Feature(FeatureBinderRatio) +
		v.Feature(FeaturePigmentRatio) +
		v.Feature(FeatureSolventRatio) +
		v.Feature(FeatureAdditiveRatio)) * 100
}

// Direction tells the optimizer how to treat a target value.
type Direction string

const (
	// DirectionTarget matches the exact value.
	DirectionTarget Direction = "target"
	// DirectionMaximize treats the value as a floor.
	DirectionMaximize Direction = "max"
	// DirectionMinimize treats the value as a ceiling.
	DirectionMinimize Direction = "min"
)

// Target is one performance goal inside a TargetSpec.
type Target struct {
	Value     float64   `json:"value"`
	Weight    float64   `json:"weight,omitempty"`
	Direction Direction `json:"direction,omitempty"`

	// Tolerance is the relative deviation considered "met". Zero means
	// the 5% default.
	Tolerance float64 `json:"tolerance,omitempty"`
}

// TargetSpec names target values and weights per performance property,
// plus optional hard constraints.
type TargetSpec struct {
	Targets map[string]Target `json:"targets"`

	// MaxCost is a hard ceiling on theoretical cost. Zero disables it.
	MaxCost float64 `json:"max_cost,omitempty"`

	// MinSolids is a hard floor on solids content percent. Zero disables it.
	MinSolids float64 `json:"min_solids,omitempty"`

	// Prohibited lists material codes or names that must not appear.
	Prohibited []string `json:"prohibited,omitempty"`
}

// Normalized returns a copy with default weights, directions, and
// tolerances filled in.
func (s TargetSpec) Normalized() TargetSpec {
	out := TargetSpec{
		Targets:    make(map[string]Target, len(s.Targets)),
		MaxCost:    s.MaxCost,
		MinSolids:  s.MinSolids,
		Prohibited: s.Prohibited,
	}
	for prop, t := range s.Targets {
		if t.Weight == 0 {
			t.Weight = 1
		}
		if t.Direction == "" {
			t.Direction = DirectionTarget
		}
		if t.Tolerance == 0 {
			t.Tolerance = 0.05
		}
		out.Targets[prop] = t
	}
	return out
}

// Validate checks the spec is usable.
func (s TargetSpec) Validate() error {
	if len(s.Targets) == 0 {
		return newValidationError("targets", "at least one target property required")
	}
	for prop, t := range s.Targets {
		if t.Weight < 0 {
			return newValidationError("targets."+prop, "weight must be non-negative")
		}
		switch t.Direction {
		case "", DirectionTarget, DirectionMaximize, DirectionMinimize:
		default:
			return newValidationError("targets."+prop, "unknown direction %q", t.Direction)
		}
	}
	if s.MaxCost < 0 {
		return newValidationError("max_cost", "must be non-negative")
	}
	return nil
}

// TrainingSample pairs a recipe vector with observed test results. Samples
// are created when a trial's results are accepted.
type TrainingSample struct {
	ID        string             `json:"id"`
	ProjectID string             `json:"project_id,omitempty"`
	Features  []float64          `json:"features"`
	Results   map[string]float64 `json:"results"`
	CreatedAt time.Time          `json:"created_at"`
}

// DefaultProperties lists the performance properties learners fit by
// default when samples carry them.
var DefaultProperties = []string{
	"gloss",
	"viscosity",
	"opacity",
	"quality_score",
	"total_cost",
	"hardness",
	"adhesion",
	"flexibility",
	"chemical_resistance",
	"uv_resistance",
}

// classWeights aggregates per-class ratios during transformation.
type classWeights map[catalog.Category]float64
