// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package knowledge

import "fmt"

// Suggestion is one rule-driven formulation improvement.
type Suggestion struct {
	// Type is "performance", "compliance", or "cost".
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// ExpectedImpact maps a property or outcome to its anticipated
	// percentage change.
	ExpectedImpact map[string]float64 `json:"expected_impact,omitempty"`

	Steps      []string `json:"steps"`
	Confidence float64  `json:"confidence"`
}

// ImprovementGoal selects which suggestion families apply.
type ImprovementGoal string

const (
	GoalCost        ImprovementGoal = "cost"
	GoalPerformance ImprovementGoal = "performance"
	GoalBalanced    ImprovementGoal = "balanced"
)

// FormulationFacts are the measured values the improvement rules look
// at. Zero values mean unknown and disable the corresponding rule.
type FormulationFacts struct {
	// PVC is the pigment volume concentration in percent.
	PVC float64 `json:"pvc,omitempty"`

	// VOC in g/L.
	VOC float64 `json:"voc,omitempty"`

	// VOCClass selects the applicable legal limit; defaults to
	// interior_non_flat.
	VOCClass string `json:"voc_class,omitempty"`

	TotalCost float64 `json:"total_cost,omitempty"`
}

// SuggestImprovements runs the rule set over a formulation's facts.
func (b *Base) SuggestImprovements(facts FormulationFacts, goal ImprovementGoal) []Suggestion {
	if goal == "" {
		goal = GoalBalanced
	}
	rules := b.Rules()

	var out []Suggestion
	if facts.PVC > 60 {
		out = append(out, Suggestion{
			Type:  "performance",
			Title: "High PVC ratio",
			Description: fmt.Sprintf(
				"PVC is high at %.1f%%. Film quality may suffer above the critical range.", facts.PVC),
			ExpectedImpact: map[string]float64{"gloss": -15, "durability": -10},
			Steps: []string{
				"Reduce extender content by 5-10%",
				"Increase the binder share",
				"Alternatively use an extender with higher oil absorption",
			},
			Confidence: 0.85,
		})
	}

	if facts.VOC > 0 {
		class := facts.VOCClass
		if class == "" {
			class = "interior_non_flat"
		}
		limit, ok := rules.VOCLimits[class]
		if ok && facts.VOC > limit {
			out = append(out, Suggestion{
				Type:  "compliance",
				Title: "VOC over limit",
				Description: fmt.Sprintf(
					"VOC (%.0f g/L) exceeds the %s limit (%.0f g/L).", facts.VOC, class, limit),
				ExpectedImpact: map[string]float64{"compliance": 100},
				Steps: []string{
					"Switch to low-VOC or VOC-free solvents",
					"Evaluate a waterborne alternative",
					"Develop a high-solids variant",
				},
				Confidence: 0.95,
			})
		}
	}

	if (goal == GoalCost || goal == GoalBalanced) && facts.TotalCost > 0 {
		out = append(out, Suggestion{
			Type:           "cost",
			Title:          "Cost optimization",
			Description:    "Opportunities to reduce cost while holding performance.",
			ExpectedImpact: map[string]float64{"cost": -15},
			Steps: []string{
				"Replace part of the expensive pigment with extender",
				"Evaluate more economical additive alternatives",
				"Reduce unit cost through bulk purchasing",
			},
			Confidence: 0.70,
		})
	}
	return out
}
