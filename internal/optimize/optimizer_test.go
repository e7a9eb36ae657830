// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package optimize

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/recipe"
)

// stubPredictor is a deterministic forward model: gloss rises linearly
// with the binder ratio feature, which gives the search an unambiguous
// gradient to follow.
type stubPredictor struct {
	trained bool
}

func (s *stubPredictor) IsTrained() bool { return s.trained }

func (s *stubPredictor) Predict(_ context.Context, features []float64) (*forecast.Prediction, error) {
	if !s.trained {
		return nil, forecast.ErrModelNotTrained
	}
	gloss := 40 + 100*features[0]
	return &forecast.Prediction{
		Scope: "stub",
		Values: map[string]forecast.Estimate{
			"gloss": {Value: gloss, Confidence: 0.9, Lower: gloss - 3, Upper: gloss + 3},
		},
	}, nil
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Material{
		{Code: "BinderA", Name: "Acrylic Resin A", Category: "binder", UnitPrice: 5.0, SolidContent: 60, OHValue: 80, Density: 1.1},
		{Code: "BinderB", Name: "Alkyd Resin B", Category: "binder", UnitPrice: 3.0, SolidContent: 50, Density: 1.0},
		{Code: "PigmentC", Name: "Titanium Dioxide", Category: "pigment", UnitPrice: 2.0, SolidContent: 100, Density: 4.2},
		{Code: "SolventB", Name: "Xylene", Category: "solvent", UnitPrice: 1.0, Density: 0.87, BoilingPoint: 139},
		{Code: "AdditiveD", Name: "Flow Agent", Category: "additive", UnitPrice: 8.0, Density: 1.0, MaxPercent: 5},
	})
}

func newTestOptimizer(t *testing.T, pred Predictor, opts Options) *Optimizer {
	t.Helper()
	cat := testCatalog()
	tr := recipe.NewTransformer(cat, recipe.TransformerOptions{})
	o, err := New(cat, tr, pred, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func glossSpec() recipe.TargetSpec {
	return recipe.TargetSpec{
		Targets: map[string]recipe.Target{
			"gloss": {Value: 85, Direction: recipe.DirectionMaximize},
		},
		MaxCost: 2.5,
	}
}

func TestRunRequiresTrainedPredictor(t *testing.T) {
	o := newTestOptimizer(t, &stubPredictor{trained: false}, Options{})
	if _, err := o.Run(context.Background(), glossSpec()); !errors.Is(err, ErrPredictorNotTrained) {
		t.Fatalf("Run() error = %v, want ErrPredictorNotTrained", err)
	}
}

func TestRunRejectsEmptySpec(t *testing.T) {
	o := newTestOptimizer(t, &stubPredictor{trained: true}, Options{})
	if _, err := o.Run(context.Background(), recipe.TargetSpec{}); err == nil {
		t.Fatal("Run() error = nil for spec without targets")
	}
}

func TestRunFindsFeasibleFormulation(t *testing.T) {
	o := newTestOptimizer(t, &stubPredictor{trained: true}, Options{})
	result, err := o.Run(context.Background(), glossSpec())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Candidates) == 0 {
		t.Fatal("Run() returned no candidates")
	}
	if result.Generations == 0 {
		t.Error("Generations = 0, search never ran")
	}

	best := result.Candidates[0]
	if best.Loss > 0.2 {
		t.Errorf("best loss = %.4f, want near-zero for a reachable target", best.Loss)
	}
	if result.Infeasible {
		t.Errorf("Infeasible = true with violations %v for a reachable target", best.Violations)
	}

	var total float64
	for _, c := range best.Composition {
		total += c.Percent
	}
	if math.Abs(total-100) > 0.5 {
		t.Errorf("best composition sums to %.2f, want 100", total)
	}

	// Candidates are ranked by ascending loss.
	for i := 1; i < len(result.Candidates); i++ {
		if result.Candidates[i].Loss < result.Candidates[i-1].Loss {
			t.Errorf("candidate %d loss %.4f < candidate %d loss %.4f, want ascending",
				i, result.Candidates[i].Loss, i-1, result.Candidates[i-1].Loss)
		}
	}
}

func TestRunDeterministicWithSeed(t *testing.T) {
	spec := glossSpec()

	a := newTestOptimizer(t, &stubPredictor{trained: true}, Options{Seed: 11})
	b := newTestOptimizer(t, &stubPredictor{trained: true}, Options{Seed: 11})

	ra, err := a.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	rb, err := b.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if ra.Candidates[0].Loss != rb.Candidates[0].Loss {
		t.Errorf("same seed gave losses %.6f and %.6f", ra.Candidates[0].Loss, rb.Candidates[0].Loss)
	}
	if len(ra.Candidates[0].Composition) != len(rb.Candidates[0].Composition) {
		t.Fatalf("same seed gave different composition sizes")
	}
	for i, c := range ra.Candidates[0].Composition {
		if c != rb.Candidates[0].Composition[i] {
			t.Errorf("component %d differs: %+v vs %+v", i, c, rb.Candidates[0].Composition[i])
		}
	}
}

// multiPropPredictor returns several properties so the objective sums
// more than one target loss per genome.
type multiPropPredictor struct{}

func (multiPropPredictor) IsTrained() bool { return true }

func (multiPropPredictor) Predict(_ context.Context, features []float64) (*forecast.Prediction, error) {
	gloss := 40 + 100*features[0]
	hardness := 30 + 80*features[1]
	adhesion := 50 + 60*features[2]
	return &forecast.Prediction{
		Scope: "stub",
		Values: map[string]forecast.Estimate{
			"gloss":    {Value: gloss, Confidence: 0.9, Lower: gloss - 3, Upper: gloss + 3},
			"hardness": {Value: hardness, Confidence: 0.9, Lower: hardness - 3, Upper: hardness + 3},
			"adhesion": {Value: adhesion, Confidence: 0.9, Lower: adhesion - 3, Upper: adhesion + 3},
		},
	}, nil
}

// With several targets, the per-target losses must be summed in a fixed
// order: float addition is not associative, so any order drift shows up
// as bit-level loss differences between identically seeded runs.
func TestRunDeterministicWithMultipleTargets(t *testing.T) {
	spec := recipe.TargetSpec{
		Targets: map[string]recipe.Target{
			"gloss":    {Value: 85, Direction: recipe.DirectionMaximize},
			"hardness": {Value: 70, Direction: recipe.DirectionMaximize},
			"adhesion": {Value: 90, Direction: recipe.DirectionMaximize},
		},
		MaxCost: 2.5,
	}

	var baseline []uint64
	for run := 0; run < 20; run++ {
		o := newTestOptimizer(t, multiPropPredictor{}, Options{Seed: 7, Generations: 10})
		result, err := o.Run(context.Background(), spec)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		losses := make([]uint64, len(result.Candidates))
		for i, c := range result.Candidates {
			losses[i] = math.Float64bits(c.Loss)
		}
		if baseline == nil {
			baseline = losses
			continue
		}
		if len(losses) != len(baseline) {
			t.Fatalf("run %d returned %d candidates, first run returned %d", run, len(losses), len(baseline))
		}
		for i := range losses {
			if losses[i] != baseline[i] {
				t.Fatalf("run %d candidate %d loss %x differs from first run %x",
					run, i, losses[i], baseline[i])
			}
		}
	}
}

func TestRunExcludesProhibitedMaterials(t *testing.T) {
	o := newTestOptimizer(t, &stubPredictor{trained: true}, Options{})
	spec := glossSpec()
	spec.Prohibited = []string{"BinderB"}

	result, err := o.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, c := range result.Candidates[0].Composition {
		if c.Code == "BinderB" {
			t.Errorf("best candidate contains prohibited BinderB at %.2f%%", c.Percent)
		}
	}
}

func TestRunCancelledReturnsBestSoFar(t *testing.T) {
	o := newTestOptimizer(t, &stubPredictor{trained: true}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx, glossSpec())
	if err != nil {
		t.Fatalf("Run() error = %v, want best-so-far result", err)
	}
	if result.Termination != "cancelled" {
		t.Errorf("Termination = %q, want cancelled", result.Termination)
	}
	if len(result.Candidates) == 0 {
		t.Error("cancelled run returned no candidates")
	}
}

func TestTargetLoss(t *testing.T) {
	tests := []struct {
		name      string
		target    recipe.Target
		predicted float64
		want      float64
	}{
		{
			name:      "maximize met",
			target:    recipe.Target{Value: 85, Weight: 1, Direction: recipe.DirectionMaximize},
			predicted: 90,
			want:      0,
		},
		{
			name:      "maximize shortfall",
			target:    recipe.Target{Value: 85, Weight: 1, Direction: recipe.DirectionMaximize},
			predicted: 68,
			want:      17.0 / 85,
		},
		{
			name:      "minimize met",
			target:    recipe.Target{Value: 100, Weight: 2, Direction: recipe.DirectionMinimize},
			predicted: 80,
			want:      0,
		},
		{
			name:      "minimize overshoot",
			target:    recipe.Target{Value: 100, Weight: 2, Direction: recipe.DirectionMinimize},
			predicted: 120,
			want:      2 * 20.0 / 100,
		},
		{
			name:      "exact within tolerance",
			target:    recipe.Target{Value: 50, Weight: 1, Direction: recipe.DirectionTarget, Tolerance: 0.05},
			predicted: 52,
			want:      0,
		},
		{
			name:      "exact outside tolerance",
			target:    recipe.Target{Value: 50, Weight: 1, Direction: recipe.DirectionTarget, Tolerance: 0.05},
			predicted: 60,
			want:      (10.0 - 2.5) / 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetLoss(tt.target, tt.predicted); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("targetLoss() = %.6f, want %.6f", got, tt.want)
			}
		})
	}
}

func TestGenomeRepair(t *testing.T) {
	panel := testCatalog().Panel()
	rng := rand.New(rand.NewSource(1)) //nolint:gosec // test determinism

	for i := 0; i < 50; i++ {
		g := randomGenome(panel, rng)
		g.mutate(0.5, 1, rng)
		g.repair(panel)
		assertRepaired(t, g, panel)
	}
}

// A clamped sum under 100 must be filled without pushing capped genes
// back over their band.
func TestGenomeRepairKeepsCappedGenesInBand(t *testing.T) {
	panel := testCatalog().Panel()

	// AdditiveD sits at its 5% cap while the total is far below 100;
	// the deficit has to land on the other genes.
	g := &genome{genes: []float64{10, 10, 10, 10, 5}}
	g.repair(panel)
	assertRepaired(t, g, panel)

	for i, m := range panel {
		if m.Code == "AdditiveD" && g.genes[i] > 5+1e-9 {
			t.Errorf("AdditiveD = %.4f after repair, want <= 5", g.genes[i])
		}
	}
}

func assertRepaired(t *testing.T, g *genome, panel []catalog.Material) {
	t.Helper()
	var sum float64
	for i, m := range panel {
		lo, hi := bounds(m)
		if g.genes[i] < lo-1e-9 || g.genes[i] > hi+1e-9 {
			t.Fatalf("gene %s = %.4f outside band [%.1f, %.1f]", m.Code, g.genes[i], lo, hi)
		}
		if g.genes[i] > 0 && g.genes[i] < minGenePercent {
			t.Fatalf("gene %s = %.4f is a trace the recipe would drop", m.Code, g.genes[i])
		}
		sum += g.genes[i]
	}
	if math.Abs(sum-100) > 1e-6 {
		t.Fatalf("genes sum to %.4f after repair, want 100", sum)
	}
}

func TestRunCandidatesRespectMaterialBands(t *testing.T) {
	cat := testCatalog()
	o := newTestOptimizer(t, &stubPredictor{trained: true}, Options{Seed: 3})

	result, err := o.Run(context.Background(), glossSpec())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for ci, c := range result.Candidates {
		for _, comp := range c.Composition {
			m, ok := cat.Get(comp.Code)
			if !ok {
				t.Fatalf("candidate %d uses unknown material %s", ci, comp.Code)
			}
			if m.MaxPercent > 0 && comp.Percent > m.MaxPercent+1e-6 {
				t.Errorf("candidate %d: %s = %.4f%% exceeds max %.1f%%",
					ci, comp.Code, comp.Percent, m.MaxPercent)
			}
			if comp.Percent < m.MinPercent-1e-6 {
				t.Errorf("candidate %d: %s = %.4f%% below min %.1f%%",
					ci, comp.Code, comp.Percent, m.MinPercent)
			}
		}
	}
}
