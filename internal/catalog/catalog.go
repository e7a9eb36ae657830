// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package catalog models the raw-material catalog: material records with
// pricing and chemical attributes, and the category classification used
// by the transformer and the optimizer.
package catalog

import (
	"sort"
	"strings"
)

// Category is one of the four main formulation material classes.
type Category string

const (
	CategoryBinder   Category = "binder"
	CategoryPigment  Category = "pigment"
	CategorySolvent  Category = "solvent"
	CategoryAdditive Category = "additive"
)

// Categories lists all classes in canonical feature order.
var Categories = []Category{CategoryBinder, CategoryPigment, CategorySolvent, CategoryAdditive}

// Material is a raw-material catalog record.
type Material struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`

	// UnitPrice is the price per kilogram.
	UnitPrice float64 `json:"unit_price"`

	// Density in g/ml.
	Density float64 `json:"density,omitempty"`

	// SolidContent is the non-volatile fraction in percent. Zero means
	// unknown; the transformer then assumes 0 for solvents and 100 for
	// everything else.
	SolidContent float64 `json:"solid_content,omitempty"`

	// Binder attributes.
	OHValue         float64 `json:"oh_value,omitempty"`
	MolecularWeight float64 `json:"molecular_weight,omitempty"`
	GlassTransition float64 `json:"glass_transition,omitempty"`

	// Pigment attributes.
	OilAbsorption float64 `json:"oil_absorption,omitempty"`
	ParticleSize  float64 `json:"particle_size,omitempty"`

	// Solvent attributes.
	BoilingPoint    float64 `json:"boiling_point,omitempty"`
	EvaporationRate float64 `json:"evaporation_rate,omitempty"`

	VOC float64 `json:"voc_g_l,omitempty"`

	// MinPercent and MaxPercent bound this material's share in optimizer
	// candidates. Both zero means unbounded.
	MinPercent float64 `json:"min_percent,omitempty"`
	MaxPercent float64 `json:"max_percent,omitempty"`
}

// Class returns the material's canonical category.
func (m Material) Class() Category {
	return Classify(m.Category)
}

// Classify maps free-form catalog category text to a canonical class.
// Unrecognized text classifies as additive.
func Classify(raw string) Category {
	cat := strings.ToLower(raw)
	switch {
	case containsAny(cat, "binder", "resin", "polymer"):
		return CategoryBinder
	case containsAny(cat, "pigment", "filler", "extender"):
		return CategoryPigment
	case containsAny(cat, "solvent", "thinner", "water"):
		return CategorySolvent
	default:
		return CategoryAdditive
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Catalog is an immutable, ordered material collection.
type Catalog struct {
	byCode map[string]Material
	order  []string
}

// New builds a catalog from material records. Later duplicates of a code
// replace earlier ones.
func New(materials []Material) *Catalog {
	c := &Catalog{byCode: make(map[string]Material, len(materials))}
	for _, m := range materials {
		if _, exists := c.byCode[m.Code]; !exists {
			c.order = append(c.order, m.Code)
		}
		c.byCode[m.Code] = m
	}
	return c
}

// Get returns the material for a code.
func (c *Catalog) Get(code string) (Material, bool) {
	m, ok := c.byCode[code]
	return m, ok
}

// Len returns the number of materials.
func (c *Catalog) Len() int {
	return len(c.order)
}

// All returns materials in insertion order.
func (c *Catalog) All() []Material {
	out := make([]Material, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.byCode[code])
	}
	return out
}

// ByClass returns materials of one canonical class, cheapest first.
func (c *Catalog) ByClass(class Category) []Material {
	var out []Material
	for _, code := range c.order {
		if m := c.byCode[code]; m.Class() == class {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UnitPrice < out[j].UnitPrice
	})
	return out
}

// Panel selects the working set of materials for an optimization run:
// up to three binders, pigments, and solvents plus two additives. A
// smaller panel keeps the search space tractable while covering every
// class the composition needs.
func (c *Catalog) Panel() []Material {
	var panel []Material
	for _, class := range []Category{CategoryBinder, CategoryPigment, CategorySolvent} {
		panel = append(panel, limit(c.ByClass(class), 3)...)
	}
	panel = append(panel, limit(c.ByClass(CategoryAdditive), 2)...)

	if len(panel) == 0 {
		panel = limit(c.All(), 10)
	}
	return panel
}

func limit(ms []Material, n int) []Material {
	if len(ms) > n {
		return ms[:n]
	}
	return ms
}
