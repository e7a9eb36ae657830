// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package knowledge

import (
	"math"
	"sort"

	"github.com/formetric/formetric/internal/recipe"
)

// Formulation is a historical recipe with its measured context, the
// unit of comparison for similarity search.
type Formulation struct {
	Code       string             `json:"code"`
	Components []recipe.Component `json:"components"`

	// Params holds process measurements such as viscosity, ph, density.
	Params map[string]float64 `json:"params,omitempty"`

	QualityScore float64 `json:"quality_score,omitempty"`
}

// Similarity is one ranked match from FindSimilarFormulations.
type Similarity struct {
	Formulation Formulation `json:"formulation"`

	// Score in [0, 100].
	Score float64 `json:"score"`

	CommonComponents []string `json:"common_components,omitempty"`
}

// similarityParams are the process measurements that contribute to the
// parameter term of the similarity score.
var similarityParams = []string{"viscosity", "ph", "density"}

// FindSimilarFormulations ranks history against the target. The score
// blends component-set Jaccard similarity (0.6) with normalized
// parameter closeness (0.4); when neither side has comparable
// parameters, the Jaccard term stands alone.
func FindSimilarFormulations(target Formulation, history []Formulation, topN int) []Similarity {
	if topN <= 0 {
		topN = 5
	}
	targetSet := componentSet(target.Components)

	out := make([]Similarity, 0, len(history))
	for _, h := range history {
		histSet := componentSet(h.Components)

		var jaccard float64
		var common []string
		if len(targetSet) > 0 || len(histSet) > 0 {
			var inter int
			for code := range targetSet {
				if histSet[code] {
					inter++
					common = append(common, code)
				}
			}
			union := len(targetSet) + len(histSet) - inter
			if union > 0 {
				jaccard = float64(inter) / float64(union)
			}
		}
		sort.Strings(common)

		score := jaccard
		var paramSim float64
		var paramCount int
		for _, p := range similarityParams {
			tv, hv := target.Params[p], h.Params[p]
			if tv > 0 && hv > 0 {
				paramSim += 1 - math.Abs(tv-hv)/math.Max(tv, hv)
				paramCount++
			}
		}
		if paramCount > 0 {
			score = 0.6*jaccard + 0.4*paramSim/float64(paramCount)
		}

		out = append(out, Similarity{
			Formulation:      h,
			Score:            round1(score * 100),
			CommonComponents: common,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func componentSet(comps []recipe.Component) map[string]bool {
	out := make(map[string]bool, len(comps))
	for _, c := range comps {
		key := c.Code
		if key == "" {
			key = c.Name
		}
		if key != "" {
			out[key] = true
		}
	}
	return out
}
