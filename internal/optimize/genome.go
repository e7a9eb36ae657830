// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package optimize

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/formetric/formetric/internal/catalog"
)

// genome holds one percentage per panel material. Percentages always
// sum to 100 after repair; individual genes may be zero, which drops
// the material from the candidate recipe.
type genome struct {
	genes []float64
}

// randomGenome samples uniform percentages within each material's
// allowed band and normalizes.
func randomGenome(panel []catalog.Material, rng *rand.Rand) *genome {
	g := &genome{genes: make([]float64, len(panel))}
	for i, m := range panel {
		lo, hi := bounds(m)
		g.genes[i] = lo + rng.Float64()*(hi-lo)
	}
	g.repair(panel)
	return g
}

// bounds returns the material's percentage band, with sensible defaults
// when the catalog does not constrain it.
func bounds(m catalog.Material) (lo, hi float64) {
	lo, hi = m.MinPercent, m.MaxPercent
	if hi <= 0 {
		hi = 60
	}
	if lo < 0 {
		lo = 0
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// repair restores the genome invariants after crossover or mutation:
// genes land inside their material bands, trace genes collapse to
// zero, and the total is exactly 100. The residual left by clamping is
// spread across genes in proportion to their remaining band slack, so
// the adjustment never pushes a gene back out of band. When the bands
// themselves cannot admit a sum of 100 the genes stay pinned to their
// bounds; such a genome fails the transformer's sum check and scores
// as unusable.
func (g *genome) repair(panel []catalog.Material) {
	const eps = 1e-9

	for i, m := range panel {
		lo, hi := bounds(m)
		if g.genes[i] < lo {
			g.genes[i] = lo
		}
		if g.genes[i] > hi {
			g.genes[i] = hi
		}
	}
	g.truncateTraces(panel)

	// Draining can push a gene below the trace threshold, whose
	// truncation reopens a small deficit, so adjust in a short loop.
	// Filling is exact and creates no traces, so the loop settles in
	// at most a few rounds.
	for iter := 0; iter < 4; iter++ {
		diff := 100 - g.sum()
		switch {
		case diff > eps:
			// Fill the deficit from materials already in the recipe
			// first; bring in absent ones only when the active genes
			// run out of headroom.
			g.fill(panel, diff, true)
			if diff = 100 - g.sum(); diff > eps {
				g.fill(panel, diff, false)
			}
		case diff < -eps:
			g.drain(panel, -diff)
		default:
			return
		}
		g.truncateTraces(panel)
	}
}

// truncateTraces zeroes genes below the threshold at which toRecipe
// would drop them, so a repaired genome and its recipe agree.
func (g *genome) truncateTraces(panel []catalog.Material) {
	for i, m := range panel {
		lo, _ := bounds(m)
		if g.genes[i] > 0 && g.genes[i] < minGenePercent && lo <= 0 {
			g.genes[i] = 0
		}
	}
}

func (g *genome) sum() float64 {
	var s float64
	for _, v := range g.genes {
		s += v
	}
	return s
}

// fill raises genes toward their upper bounds, distributing add in
// proportion to each gene's headroom so no gene overshoots its band.
// With activeOnly set, genes below the trace threshold are skipped.
func (g *genome) fill(panel []catalog.Material, add float64, activeOnly bool) {
	var head float64
	for i, m := range panel {
		if activeOnly && g.genes[i] < minGenePercent {
			continue
		}
		_, hi := bounds(m)
		head += hi - g.genes[i]
	}
	if head <= 0 {
		return
	}
	scale := add / head
	if scale > 1 {
		scale = 1
	}
	for i, m := range panel {
		if activeOnly && g.genes[i] < minGenePercent {
			continue
		}
		_, hi := bounds(m)
		g.genes[i] += (hi - g.genes[i]) * scale
	}
}

// drain lowers genes toward their lower bounds, distributing sub in
// proportion to each gene's slack above its band floor.
func (g *genome) drain(panel []catalog.Material, sub float64) {
	var slack float64
	for i, m := range panel {
		lo, _ := bounds(m)
		slack += g.genes[i] - lo
	}
	if slack <= 0 {
		return
	}
	scale := sub / slack
	if scale > 1 {
		scale = 1
	}
	for i, m := range panel {
		lo, _ := bounds(m)
		g.genes[i] -= (g.genes[i] - lo) * scale
	}
}

// mutate perturbs genes with gaussian noise. The step size decays over
// generations so the search coarsens early and refines late.
func (g *genome) mutate(rate, decay float64, rng *rand.Rand) {
	for i := range g.genes {
		if rng.Float64() < rate {
			g.genes[i] += rng.NormFloat64() * 5 * decay
			if g.genes[i] < 0 {
				g.genes[i] = 0
			}
		}
	}
}

// crossover blends two parents gene-wise with a single random mixing
// coefficient per child.
func crossover(p1, p2 *genome, rng *rand.Rand) *genome {
	a := rng.Float64()
	child := &genome{genes: make([]float64, len(p1.genes))}
	for i := range child.genes {
		child.genes[i] = a*p1.genes[i] + (1-a)*p2.genes[i]
	}
	return child
}

func (g *genome) clone() *genome {
	c := &genome{genes: make([]float64, len(g.genes))}
	copy(c.genes, g.genes)
	return c
}

// fingerprint keys near-identical genomes so the result's top list is
// not K copies of the same formulation.
func (g *genome) fingerprint() string {
	var b strings.Builder
	for _, v := range g.genes {
		fmt.Fprintf(&b, "%.1f|", v)
	}
	return b.String()
}
