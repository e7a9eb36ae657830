// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package forecast

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// scaler standardizes feature columns to zero mean and unit variance.
// Columns with zero variance keep a divisor of 1 so constant features
// pass through centered instead of producing NaN.
type scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitScaler(rows [][]float64, dim int) *scaler {
	s := &scaler{
		Mean: make([]float64, dim),
		Std:  make([]float64, dim),
	}
	col := make([]float64, len(rows))
	for j := 0; j < dim; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) || std < 1e-12 {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s
}

func (s *scaler) apply(features []float64) []float64 {
	out := make([]float64, len(s.Mean))
	for j := range out {
		v := 0.0
		if j < len(features) {
			v = features[j]
		}
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// fitRidge solves the regularized normal equations (XᵀX + λI)β = Xᵀy
// for the design matrix rows (already standardized, no intercept
// column). The returned coefficient slice holds the intercept at index
// zero followed by one weight per feature. The intercept is not
// penalized.
func fitRidge(rows [][]float64, y []float64, lambda float64) ([]float64, error) {
	n := len(rows)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("forecast: design matrix has %d rows for %d targets", n, len(y))
	}
	d := len(rows[0]) + 1

	x := mat.NewDense(n, d, nil)
	for i, r := range rows {
		x.Set(i, 0, 1)
		for j, v := range r {
			x.Set(i, j+1, v)
		}
	}

	var gram mat.Dense
	gram.Mul(x.T(), x)
	for j := 1; j < d; j++ {
		gram.Set(j, j, gram.At(j, j)+lambda)
	}
	// A touch of ridge on the intercept keeps the system solvable when
	// every response is identical and n < d.
	gram.Set(0, 0, gram.At(0, 0)+1e-9)

	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(n, y))

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &xty); err != nil {
		return nil, fmt.Errorf("forecast: ridge solve: %w", err)
	}

	out := make([]float64, d)
	copy(out, beta.RawVector().Data)
	return out, nil
}

// predictRidge evaluates a fitted coefficient vector on standardized
// features.
func predictRidge(beta, scaled []float64) float64 {
	v := beta[0]
	for j := 1; j < len(beta); j++ {
		v += beta[j] * scaled[j-1]
	}
	return v
}

// targetModel is the fitted state for one property: a bag of ridge
// members trained on bootstrap resamples plus fit diagnostics computed
// on the full training set.
type targetModel struct {
	// Members holds one coefficient vector per bootstrap member.
	Members [][]float64 `json:"members"`

	// FitQuality is R² of the ensemble mean on the training set,
	// clamped to [0, 1].
	FitQuality float64 `json:"fit_quality"`

	// Importances are normalized mean |β|·σ weights per feature.
	Importances map[string]float64 `json:"importances"`
}

// fitTarget trains a bagged ensemble for one property. rows and y are
// parallel; rows are raw (unscaled) feature vectors.
func fitTarget(rows [][]float64, y []float64, sc *scaler, names []string, ensemble int, lambda float64, rng *rand.Rand) (*targetModel, error) {
	n := len(rows)
	scaled := make([][]float64, n)
	for i, r := range rows {
		scaled[i] = sc.apply(r)
	}

	tm := &targetModel{Members: make([][]float64, 0, ensemble)}
	bootRows := make([][]float64, n)
	bootY := make([]float64, n)
	for m := 0; m < ensemble; m++ {
		for i := 0; i < n; i++ {
			k := rng.Intn(n)
			bootRows[i] = scaled[k]
			bootY[i] = y[k]
		}
		beta, err := fitRidge(bootRows, bootY, lambda)
		if err != nil {
			return nil, err
		}
		tm.Members = append(tm.Members, beta)
	}

	// R² of the bag mean against the full training set.
	var sse, sst float64
	yMean := stat.Mean(y, nil)
	for i := range scaled {
		pred, _ := tm.evaluate(scaled[i])
		sse += (y[i] - pred) * (y[i] - pred)
		sst += (y[i] - yMean) * (y[i] - yMean)
	}
	switch {
	case sst < 1e-12:
		// Constant response: the bag reproduces it, call the fit exact.
		tm.FitQuality = 1
	default:
		tm.FitQuality = clamp01(1 - sse/sst)
	}

	tm.Importances = importances(tm.Members, sc, names)
	return tm, nil
}

// evaluate returns the bag mean and the population variance across
// members for one standardized vector.
func (tm *targetModel) evaluate(scaled []float64) (mean, variance float64) {
	preds := make([]float64, len(tm.Members))
	for i, beta := range tm.Members {
		preds[i] = predictRidge(beta, scaled)
	}
	if len(preds) == 1 {
		return preds[0], 0
	}
	mean, std := stat.MeanStdDev(preds, nil)
	return mean, std * std
}

// importances averages |β_j| across members and normalizes to sum to
// one. Members are fitted on standardized features, so coefficient
// magnitudes are already comparable across units.
func importances(members [][]float64, sc *scaler, names []string) map[string]float64 {
	dim := len(sc.Std)
	raw := make([]float64, dim)
	for _, beta := range members {
		for j := 0; j < dim && j+1 < len(beta); j++ {
			raw[j] += math.Abs(beta[j+1])
		}
	}
	var total float64
	for j := range raw {
		raw[j] /= float64(len(members))
		total += raw[j]
	}
	out := make(map[string]float64, dim)
	for j, name := range names {
		if j >= dim {
			break
		}
		if total > 0 {
			out[name] = raw[j] / total
		} else {
			out[name] = 0
		}
	}
	return out
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
