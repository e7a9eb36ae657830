// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/recipe"
)

// Recommendation proposes one substitute for one material.
type Recommendation struct {
	CurrentMaterial     string  `json:"current_material"`
	RecommendedMaterial string  `json:"recommended_material"`
	Reason              string  `json:"reason"`
	Confidence          float64 `json:"confidence"`

	// TradeOffs maps property name to the percentage change relative to
	// the current material. Positive means the substitute is stronger.
	TradeOffs map[string]float64 `json:"trade_offs,omitempty"`

	ChemistryNotes    string  `json:"chemistry_notes,omitempty"`
	CostChangePercent float64 `json:"cost_change_percent"`
}

// Predictor is a trained forward model consulted for predicted property
// deltas. Satisfied by forecast.Learner.
type Predictor interface {
	IsTrained() bool
	Predict(ctx context.Context, features []float64) (*forecast.Prediction, error)
}

// RecommendOptions tunes alternative selection.
type RecommendOptions struct {
	// TargetProperties maps property name to the minimum desired level.
	// Substitutes meeting a target earn a confidence bonus.
	TargetProperties Properties

	// Prohibited material keys or names are never recommended.
	Prohibited []string

	// History is past formulations; substitutes that appear in it earn
	// a co-occurrence bonus proportional to their frequency.
	History []Formulation

	// Recipe is the formulation the substitution would modify. When it
	// is set together with Transformer and a trained Predictor, each
	// substitute also earns a bonus from the forward model's predicted
	// change on the target properties.
	Recipe recipe.Recipe

	// Transformer turns recipes into feature vectors for the Predictor.
	Transformer *recipe.Transformer

	// Predictor is the forward model. Optional; without one, or while
	// it is untrained, confidence rests on the curated profile match
	// alone.
	Predictor Predictor
}

// RecommendAlternatives proposes substitutes for one material. Results
// are sorted by descending confidence; equal confidence breaks toward
// the smaller absolute cost change. The material itself is never in
// the list, even if the knowledge document is self-referential.
func (b *Base) RecommendAlternatives(ctx context.Context, category, material string, opts RecommendOptions) []Recommendation {
	b.mu.RLock()
	defer b.mu.RUnlock()

	currentKey, current, ok := b.findLocked(category, material)
	if !ok {
		b.logger.Warn().Str("category", category).Str("material", material).Msg("Material not in knowledge base")
		return nil
	}

	prohibited := make(map[string]bool, len(opts.Prohibited))
	for _, p := range opts.Prohibited {
		prohibited[strings.ToLower(strings.TrimSpace(p))] = true
	}

	scorer := newDeltaScorer(ctx, opts)
	currentNames := []string{material, currentKey, current.Name}

	var recs []Recommendation
	for _, subKey := range current.Substitutes {
		if subKey == currentKey {
			continue
		}
		sub, ok := b.doc.MaterialCategories[category][subKey]
		if !ok {
			continue
		}
		if prohibited[strings.ToLower(subKey)] || prohibited[strings.ToLower(sub.Name)] {
			continue
		}

		tradeOffs := propertyTradeOffs(current.Properties, sub.Properties)
		costChange := costChangePercent(current.Properties, sub.Properties)
		confidence := substitutionConfidence(current.Properties, sub.Properties, opts.TargetProperties)
		confidence = clamp01(confidence +
			coOccurrenceBonus(subKey, sub.Name, opts.History) +
			scorer.bonus(ctx, currentNames, subKey, sub.Name))

		recs = append(recs, Recommendation{
			CurrentMaterial:     displayName(current, currentKey),
			RecommendedMaterial: displayName(sub, subKey),
			Reason:              substitutionReason(tradeOffs, costChange),
			Confidence:          confidence,
			TradeOffs:           tradeOffs,
			ChemistryNotes:      chemistryNote(current, sub, subKey),
			CostChangePercent:   costChange,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		return math.Abs(recs[i].CostChangePercent) < math.Abs(recs[j].CostChangePercent)
	})
	return recs
}

// propertyTradeOffs reports percentage deltas for shared properties
// where the difference is meaningful (more than half a level).
func propertyTradeOffs(current, sub Properties) map[string]float64 {
	out := make(map[string]float64)
	for prop, cv := range current {
		sv, ok := sub[prop]
		if !ok {
			continue
		}
		diff := sv - cv
		if math.Abs(diff) > 0.5 {
			out[prop] = round1(diff / math.Max(cv, 1) * 100)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func costChangePercent(current, sub Properties) float64 {
	cc := levelOr(current, "cost_level", 5)
	sc := levelOr(sub, "cost_level", 5)
	return round1((sc - cc) / cc * 100)
}

// substitutionConfidence scores how well the substitute's property
// profile matches the current material, with a capped bonus for meeting
// explicit targets.
func substitutionConfidence(current, sub, targets Properties) float64 {
	var (
		similarity float64
		common     int
	)
	for prop, cv := range current {
		sv, ok := sub[prop]
		if !ok {
			continue
		}
		diff := math.Abs(cv-sv) / math.Max(math.Max(cv, sv), 1)
		similarity += 1 - diff
		common++
	}
	if common == 0 {
		return 0.5
	}
	confidence := similarity / float64(common)

	var bonus float64
	for prop, want := range targets {
		if sv, ok := sub[prop]; ok && sv >= want {
			bonus += 0.1
		}
	}
	return clamp01(confidence + math.Min(bonus, 0.2))
}

// coOccurrenceBonus rewards substitutes that already appear in past
// formulations: up to 0.1 when the material is in at least half of
// them.
func coOccurrenceBonus(key, name string, history []Formulation) float64 {
	if len(history) == 0 {
		return 0
	}
	var hits int
	for _, f := range history {
		for _, c := range f.Components {
			if strings.EqualFold(c.Code, key) || strings.EqualFold(c.Name, name) {
				hits++
				break
			}
		}
	}
	freq := float64(hits) / float64(len(history))
	return math.Min(freq, 0.5) * 0.2
}

// maxPredictedBonus caps the forward model's influence so a single
// optimistic prediction cannot drown out the curated profile match.
const maxPredictedBonus = 0.15

// deltaScorer rates substitutes by the forward model's predicted
// property change. It lives for one RecommendAlternatives call: the
// prediction for the unmodified recipe is computed once and reused
// across substitutes.
type deltaScorer struct {
	opts  RecommendOptions
	base  *forecast.Prediction
	props []string
}

// newDeltaScorer returns nil when any part of the model path is missing
// or fails; a nil scorer contributes no bonus, which keeps the curated
// ranking intact.
func newDeltaScorer(ctx context.Context, opts RecommendOptions) *deltaScorer {
	if opts.Predictor == nil || opts.Transformer == nil {
		return nil
	}
	if len(opts.Recipe.Components) == 0 || len(opts.TargetProperties) == 0 {
		return nil
	}
	if !opts.Predictor.IsTrained() {
		return nil
	}
	vec, err := opts.Transformer.Transform(opts.Recipe)
	if err != nil {
		return nil
	}
	base, err := opts.Predictor.Predict(ctx, vec.Features)
	if err != nil {
		return nil
	}

	// Fixed property order keeps the summed score stable across calls.
	props := make([]string, 0, len(opts.TargetProperties))
	for prop := range opts.TargetProperties {
		props = append(props, prop)
	}
	sort.Strings(props)
	return &deltaScorer{opts: opts, base: base, props: props}
}

// bonus re-predicts the recipe with the substitute swapped in and sums
// the normalized deltas on the target properties. A substitute the
// model expects to hurt the targets scores negative.
func (d *deltaScorer) bonus(ctx context.Context, currentNames []string, subKey, subName string) float64 {
	if d == nil {
		return 0
	}
	swapped, ok := swapComponent(d.opts.Recipe, currentNames, subKey, subName)
	if !ok {
		return 0
	}
	vec, err := d.opts.Transformer.Transform(swapped)
	if err != nil {
		return 0
	}
	pred, err := d.opts.Predictor.Predict(ctx, vec.Features)
	if err != nil {
		return 0
	}

	var score float64
	for _, prop := range d.props {
		before, ok := d.base.Values[prop]
		if !ok {
			continue
		}
		after, ok := pred.Values[prop]
		if !ok {
			continue
		}
		want := d.opts.TargetProperties[prop]
		score += (after.Value - before.Value) / math.Max(math.Abs(want), 1)
	}
	return math.Max(-maxPredictedBonus, math.Min(score, maxPredictedBonus))
}

// swapComponent copies the recipe with the current material replaced by
// the substitute at the same percentage. False when the recipe does not
// contain the material, in which case the model has nothing to compare.
func swapComponent(r recipe.Recipe, currentNames []string, subKey, subName string) (recipe.Recipe, bool) {
	out := recipe.Recipe{Components: make([]recipe.Component, len(r.Components))}
	copy(out.Components, r.Components)

	swapped := false
	for i, c := range out.Components {
		if !matchesAny(c, currentNames) {
			continue
		}
		out.Components[i].Code = subKey
		out.Components[i].Name = subName
		swapped = true
	}
	return out, swapped
}

func matchesAny(c recipe.Component, names []string) bool {
	for _, n := range names {
		if n == "" {
			continue
		}
		if strings.EqualFold(c.Code, n) || strings.EqualFold(c.Name, n) {
			return true
		}
	}
	return false
}

func substitutionReason(tradeOffs map[string]float64, costChange float64) string {
	var reasons []string
	switch {
	case costChange < -10:
		reasons = append(reasons, fmt.Sprintf("%.0f%% lower cost", math.Abs(costChange)))
	case costChange > 10:
		reasons = append(reasons, fmt.Sprintf("%.0f%% higher cost but improved performance", costChange))
	}

	var improved, decreased []string
	for prop, delta := range tradeOffs {
		if prop == "cost_level" {
			continue
		}
		switch {
		case delta > 10:
			improved = append(improved, prop)
		case delta < -10:
			decreased = append(decreased, prop)
		}
	}
	sort.Strings(improved)
	sort.Strings(decreased)
	if len(improved) > 2 {
		improved = improved[:2]
	}
	if len(improved) > 0 {
		reasons = append(reasons, "improves "+strings.Join(improved, ", "))
	}
	if len(decreased) > 0 {
		reasons = append(reasons, "note: "+decreased[0]+" may decrease")
	}
	if len(reasons) == 0 {
		return "similar performance profile"
	}
	return strings.Join(reasons, "; ")
}

// chemistryNote assembles curator guidance: shared compatibilities, new
// requirements the substitute brings, and typical usage.
func chemistryNote(current, sub Entry, subKey string) string {
	var notes []string

	currentCompat := toSet(current.CompatibleWith)
	var shared, added []string
	for _, c := range sub.CompatibleWith {
		if currentCompat[c] {
			shared = append(shared, c)
		} else {
			added = append(added, c)
		}
	}
	if len(shared) > 2 {
		shared = shared[:2]
	}
	if len(shared) > 0 {
		notes = append(notes, "both materials are compatible with "+strings.Join(shared, ", "))
	}
	if len(added) > 0 {
		notes = append(notes, fmt.Sprintf("note: %s may require %s", displayName(sub, subKey), added[0]))
	}
	if len(sub.TypicalUsage) > 0 {
		usage := sub.TypicalUsage
		if len(usage) > 2 {
			usage = usage[:2]
		}
		notes = append(notes, "typical usage: "+strings.Join(usage, ", "))
	}
	if sub.SubstitutionNotes != "" {
		notes = append(notes, sub.SubstitutionNotes)
	}
	if len(notes) == 0 {
		return "no additional guidance"
	}
	return strings.Join(notes, ". ")
}

func displayName(e Entry, key string) string {
	if e.Name != "" {
		return e.Name
	}
	return key
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

func levelOr(p Properties, key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
