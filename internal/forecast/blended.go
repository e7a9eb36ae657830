// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package forecast

import (
	"context"
	"math"

	"github.com/formetric/formetric/internal/recipe"
)

// BlendedLearner mixes project-scoped and global predictions. The
// project weight ramps linearly with the project's sample count and
// saturates at fullWeight samples, so a brand-new project leans on the
// global pool and a mature one ignores it.
type BlendedLearner struct {
	project    Learner
	global     Learner
	fullWeight int
}

// NewBlendedLearner wires a project learner over a shared global
// learner. fullWeight is the project sample count at which the global
// contribution reaches zero.
func NewBlendedLearner(project, global Learner, fullWeight int) *BlendedLearner {
	if fullWeight <= 0 {
		fullWeight = 10
	}
	return &BlendedLearner{project: project, global: global, fullWeight: fullWeight}
}

// Name implements Learner.
func (b *BlendedLearner) Name() string { return "blended" }

// IsTrained implements Learner: usable when either constituent is.
func (b *BlendedLearner) IsTrained() bool {
	return b.project.IsTrained() || b.global.IsTrained()
}

// Train implements Learner by training the project constituent. The
// global learner is retrained separately, on the full pool, by the
// background trainer.
func (b *BlendedLearner) Train(ctx context.Context, samples []recipe.TrainingSample) error {
	return b.project.Train(ctx, samples)
}

// Predict implements Learner. With both constituents trained, each
// property present in either prediction is blended; a property known to
// only one constituent is passed through unweighted.
func (b *BlendedLearner) Predict(ctx context.Context, features []float64) (*Prediction, error) {
	pTrained := b.project.IsTrained()
	gTrained := b.global.IsTrained()

	switch {
	case !pTrained && !gTrained:
		return nil, ErrModelNotTrained
	case pTrained && !gTrained:
		return b.project.Predict(ctx, features)
	case !pTrained && gTrained:
		return b.global.Predict(ctx, features)
	}

	pp, err := b.project.Predict(ctx, features)
	if err != nil {
		return b.global.Predict(ctx, features)
	}
	gp, err := b.global.Predict(ctx, features)
	if err != nil {
		return pp, nil
	}

	w := b.projectWeight()
	out := &Prediction{
		Scope:  "blended",
		Values: make(map[string]Estimate, len(pp.Values)),
	}
	for prop, pe := range pp.Values {
		ge, ok := gp.Values[prop]
		if !ok {
			out.Values[prop] = pe
			continue
		}
		out.Values[prop] = blendEstimates(pe, ge, w)
	}
	for prop, ge := range gp.Values {
		if _, ok := out.Values[prop]; !ok {
			out.Values[prop] = ge
		}
	}
	return out, nil
}

func (b *BlendedLearner) projectWeight() float64 {
	n := b.project.Status().SampleCount
	return math.Min(1, float64(n)/float64(b.fullWeight))
}

func blendEstimates(p, g Estimate, w float64) Estimate {
	return Estimate{
		Value:      w*p.Value + (1-w)*g.Value,
		Confidence: clamp01(w*p.Confidence + (1-w)*g.Confidence),
		Lower:      w*p.Lower + (1-w)*g.Lower,
		Upper:      w*p.Upper + (1-w)*g.Upper,
	}
}

// Status implements Learner, reporting the project constituent's
// training state under the blended scope.
func (b *BlendedLearner) Status() Status {
	s := b.project.Status()
	s.Scope = "blended"
	s.Trained = b.IsTrained()
	return s
}
