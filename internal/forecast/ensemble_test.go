// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/formetric/formetric/internal/metrics"
	"github.com/formetric/formetric/internal/recipe"
)

// linearSamples builds noiseless samples where gloss and total_cost are
// linear in the binder-ratio feature. Every other feature is held
// constant so the regression has a single informative column.
func linearSamples(n int) []recipe.TrainingSample {
	samples := make([]recipe.TrainingSample, n)
	for i := 0; i < n; i++ {
		features := make([]float64, recipe.FeatureCount)
		for j := range features {
			features[j] = 0.5
		}
		x := 0.2 + 0.05*float64(i)
		features[0] = x
		samples[i] = recipe.TrainingSample{
			ID:        fmt.Sprintf("s%d", i),
			ProjectID: "p1",
			Features:  features,
			Results: map[string]float64{
				"gloss":      40 + 100*x,
				"total_cost": 2 + 3*x,
			},
			CreatedAt: time.Now(),
		}
	}
	return samples
}

func queryAt(x float64) []float64 {
	features := make([]float64, recipe.FeatureCount)
	for j := range features {
		features[j] = 0.5
	}
	features[0] = x
	return features
}

func TestTrainInsufficientData(t *testing.T) {
	l := NewProjectLearner("p1", Options{MinSamples: 3})

	err := l.Train(context.Background(), linearSamples(2))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Train() error = %v, want ErrInsufficientData", err)
	}
	if l.IsTrained() {
		t.Error("IsTrained() = true after failed training")
	}
	if _, err := l.Predict(context.Background(), queryAt(0.3)); !errors.Is(err, ErrModelNotTrained) {
		t.Errorf("Predict() error = %v, want ErrModelNotTrained", err)
	}
}

func TestTrainInsufficientDataPreservesModel(t *testing.T) {
	l := NewProjectLearner("p1", Options{MinSamples: 3})
	if err := l.Train(context.Background(), linearSamples(6)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	before, err := l.Predict(context.Background(), queryAt(0.3))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if err := l.Train(context.Background(), linearSamples(1)); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Train() error = %v, want ErrInsufficientData", err)
	}
	if !l.IsTrained() {
		t.Fatal("IsTrained() = false, earlier model was discarded")
	}
	after, err := l.Predict(context.Background(), queryAt(0.3))
	if err != nil {
		t.Fatalf("Predict() after no-op train error = %v", err)
	}
	if before.Values["gloss"].Value != after.Values["gloss"].Value {
		t.Errorf("prediction changed after no-op train: %v != %v",
			before.Values["gloss"].Value, after.Values["gloss"].Value)
	}
}

func TestPredictRecoversLinearTrend(t *testing.T) {
	l := NewProjectLearner("p1", Options{})
	samples := linearSamples(12)
	if err := l.Train(context.Background(), samples); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	// Query at the center of the training range, where ridge shrinkage
	// has no effect on the point estimate.
	centerX := 0.2 + 0.05*5.5
	pred, err := l.Predict(context.Background(), queryAt(centerX))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	wantGloss := 40 + 100*centerX
	got := pred.Values["gloss"]
	if math.Abs(got.Value-wantGloss) > 0.05*wantGloss {
		t.Errorf("gloss = %.2f, want %.2f ±5%%", got.Value, wantGloss)
	}
	if got.Lower > got.Value || got.Upper < got.Value {
		t.Errorf("interval [%.2f, %.2f] does not contain estimate %.2f", got.Lower, got.Upper, got.Value)
	}
	if got.Confidence <= 0 || got.Confidence > 1 {
		t.Errorf("confidence = %.3f, want (0, 1]", got.Confidence)
	}

	st := l.Status()
	if q := st.FitQuality["gloss"]; q < 0.8 {
		t.Errorf("fit quality = %.3f for noiseless linear data, want >= 0.8", q)
	}
}

func TestConfidenceIncreasesWithSamples(t *testing.T) {
	ctx := context.Background()
	query := queryAt(0.2 + 0.05*5.5)

	small := NewProjectLearner("p1", Options{})
	if err := small.Train(ctx, linearSamples(3)); err != nil {
		t.Fatalf("Train(3) error = %v", err)
	}
	large := NewProjectLearner("p1", Options{})
	if err := large.Train(ctx, linearSamples(12)); err != nil {
		t.Fatalf("Train(12) error = %v", err)
	}

	sp, err := small.Predict(ctx, query)
	if err != nil {
		t.Fatalf("small Predict() error = %v", err)
	}
	lp, err := large.Predict(ctx, query)
	if err != nil {
		t.Fatalf("large Predict() error = %v", err)
	}

	if lp.Values["gloss"].Confidence < sp.Values["gloss"].Confidence {
		t.Errorf("confidence with 12 samples (%.3f) < confidence with 3 samples (%.3f)",
			lp.Values["gloss"].Confidence, sp.Values["gloss"].Confidence)
	}
}

func TestFeatureImportances(t *testing.T) {
	l := NewProjectLearner("p1", Options{})
	if err := l.Train(context.Background(), linearSamples(10)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	imp := l.Status().Importances["gloss"]
	if imp == nil {
		t.Fatal("Status() has no importances for gloss")
	}
	var sum float64
	for _, v := range imp {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("importances sum = %.6f, want 1", sum)
	}
	// Only the binder ratio varies, so it must carry nearly all weight.
	if imp[recipe.FeatureBinderRatio] < 0.9 {
		t.Errorf("importance[%s] = %.3f, want >= 0.9", recipe.FeatureBinderRatio, imp[recipe.FeatureBinderRatio])
	}
}

func TestTrainSkipsMalformedSamples(t *testing.T) {
	samples := linearSamples(5)
	samples = append(samples, recipe.TrainingSample{
		ID:       "bad",
		Features: []float64{1, 2, 3},
		Results:  map[string]float64{"gloss": 999},
	})

	l := NewProjectLearner("p1", Options{})
	if err := l.Train(context.Background(), samples); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if n := l.Status().SampleCount; n != 5 {
		t.Errorf("SampleCount = %d, want 5 (malformed sample skipped)", n)
	}
}

func TestTrainDeterministicWithSeed(t *testing.T) {
	ctx := context.Background()
	query := queryAt(0.31)

	a := NewProjectLearner("p1", Options{Seed: 7})
	b := NewProjectLearner("p1", Options{Seed: 7})
	samples := linearSamples(8)
	if err := a.Train(ctx, samples); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if err := b.Train(ctx, samples); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	pa, _ := a.Predict(ctx, query)
	pb, _ := b.Predict(ctx, query)
	if pa.Values["gloss"] != pb.Values["gloss"] {
		t.Errorf("same seed produced different estimates: %+v vs %+v", pa.Values["gloss"], pb.Values["gloss"])
	}
}

func TestBundleRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewProjectLearner("p1", Options{})
	if err := l.Train(ctx, linearSamples(8)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	want, err := l.Predict(ctx, queryAt(0.33))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	bundle := l.Snapshot()
	if bundle == nil {
		t.Fatal("Snapshot() = nil for trained learner")
	}

	restored := NewProjectLearner("p1", Options{})
	if err := restored.Restore(bundle); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := restored.Predict(ctx, queryAt(0.33))
	if err != nil {
		t.Fatalf("restored Predict() error = %v", err)
	}
	if got.Values["gloss"] != want.Values["gloss"] {
		t.Errorf("restored estimate %+v, want %+v", got.Values["gloss"], want.Values["gloss"])
	}
}

func TestRestoreRejectsBadBundle(t *testing.T) {
	tests := []struct {
		name   string
		bundle *Bundle
	}{
		{name: "nil", bundle: nil},
		{name: "wrong version", bundle: &Bundle{Version: 99}},
		{name: "no targets", bundle: &Bundle{Version: BundleVersion, Scaler: &scaler{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewProjectLearner("p1", Options{})
			if err := l.Restore(tt.bundle); err == nil {
				t.Error("Restore() error = nil, want error")
			}
			if l.IsTrained() {
				t.Error("IsTrained() = true after failed restore")
			}
		})
	}
}

func TestSnapshotUntrained(t *testing.T) {
	l := NewProjectLearner("p1", Options{})
	if b := l.Snapshot(); b != nil {
		t.Errorf("Snapshot() = %+v for untrained learner, want nil", b)
	}
}

func TestPredictIncrementsPredictionCounter(t *testing.T) {
	l := NewProjectLearner("p1", Options{MinSamples: 3})
	if err := l.Train(context.Background(), linearSamples(6)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	served := metrics.PredictionsTotal.WithLabelValues("project", "success")
	before := testutil.ToFloat64(served)
	for i := 0; i < 3; i++ {
		if _, err := l.Predict(context.Background(), queryAt(0.3)); err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
	}
	if got := testutil.ToFloat64(served) - before; got != 3 {
		t.Errorf("success counter grew by %v after 3 predictions, want 3", got)
	}

	refused := metrics.PredictionsTotal.WithLabelValues("project", "not_trained")
	before = testutil.ToFloat64(refused)
	untrained := NewProjectLearner("p2", Options{MinSamples: 3})
	if _, err := untrained.Predict(context.Background(), queryAt(0.3)); !errors.Is(err, ErrModelNotTrained) {
		t.Fatalf("Predict() error = %v, want ErrModelNotTrained", err)
	}
	if got := testutil.ToFloat64(refused) - before; got != 1 {
		t.Errorf("not_trained counter grew by %v after a refused prediction, want 1", got)
	}
}
