// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package knowledge

// defaultDocument is the built-in knowledge base used when no persisted
// copy exists. Property levels are on a 1-10 scale; cost_level 10 is
// the most expensive.
func defaultDocument() *Document {
	return &Document{
		MaterialCategories: map[string]map[string]Entry{
			"binder": {
				"epoxy": {
					Name: "Epoxy Resin",
					Properties: Properties{
						"chemical_resistance": 9,
						"flexibility":         3,
						"uv_resistance":       2,
						"adhesion":            9,
						"hardness":            8,
						"cost_level":          7,
					},
					CompatibleWith:   []string{"polyamide", "amine", "polyester"},
					IncompatibleWith: []string{"silicone", "wax"},
					TypicalUsage:     []string{"floor coatings", "marine coatings", "industrial coatings"},
					Substitutes:      []string{"polyurethane", "vinyl_ester"},
				},
				"polyurethane": {
					Name: "Polyurethane Resin",
					Properties: Properties{
						"chemical_resistance": 7,
						"flexibility":         9,
						"uv_resistance":       7,
						"adhesion":            8,
						"hardness":            7,
						"abrasion_resistance": 9,
						"cost_level":          8,
					},
					CompatibleWith:   []string{"isocyanate", "polyol", "acrylic"},
					IncompatibleWith: []string{"water_excess", "amine_excess"},
					TypicalUsage:     []string{"automotive coatings", "furniture varnish", "sports surfaces"},
					Substitutes:      []string{"epoxy", "acrylic"},
				},
				"alkyd": {
					Name: "Alkyd Resin",
					Properties: Properties{
						"chemical_resistance": 5,
						"flexibility":         6,
						"uv_resistance":       5,
						"adhesion":            7,
						"hardness":            6,
						"cost_level":          4,
					},
					CompatibleWith: []string{"drier", "solvent"},
					TypicalUsage:   []string{"house paints", "metal primers", "decorative paints"},
					Substitutes:    []string{"acrylic", "polyester"},
				},
				"acrylic": {
					Name: "Acrylic Resin",
					Properties: Properties{
						"chemical_resistance": 6,
						"flexibility":         7,
						"uv_resistance":       9,
						"adhesion":            7,
						"hardness":            6,
						"cost_level":          5,
					},
					CompatibleWith: []string{"water", "coalescent", "surfactant"},
					TypicalUsage:   []string{"exterior paints", "waterborne paints", "architectural coatings"},
					Substitutes:    []string{"styrene_acrylic", "vinyl_acrylic"},
				},
			},
			"pigment": {
				"titanium_dioxide": {
					Name: "Titanium Dioxide",
					Properties: Properties{
						"opacity":       10,
						"uv_absorption": 8,
						"cost_level":    8,
					},
					Substitutes:       []string{"zinc_oxide", "lithopone"},
					SubstitutionNotes: "Zinc oxide gives similar hiding at lower cost but reduced UV protection",
				},
				"iron_oxide": {
					Name: "Iron Oxide",
					Properties: Properties{
						"opacity":            7,
						"weather_resistance": 9,
						"cost_level":         4,
					},
					Substitutes:  []string{"synthetic_iron_oxide"},
					TypicalUsage: []string{"primer paints", "anti-corrosive coatings"},
				},
			},
			"filler": {
				"calcium_carbonate": {
					Name: "Calcium Carbonate",
					Properties: Properties{
						"cost_level":    2,
						"grind_ease":    8,
						"film_hardness": 5,
					},
					Substitutes:       []string{"talc", "barium_sulfate"},
					SubstitutionNotes: "The most economical extender",
				},
				"talc": {
					Name: "Talc",
					Properties: Properties{
						"cost_level":     3,
						"barrier_effect": 8,
						"film_hardness":  6,
					},
					Substitutes:       []string{"calcium_carbonate"},
					SubstitutionNotes: "Effective as a moisture barrier",
				},
			},
		},
		FormulationRules: FormulationRules{
			CPVCRanges: map[string]string{
				"gloss_paint": "30-40%",
				"semi_gloss":  "40-50%",
				"flat_paint":  "50-70%",
			},
			VOCLimits: map[string]float64{
				"interior_flat":     50,
				"interior_non_flat": 150,
				"exterior_flat":     100,
				"exterior_non_flat": 200,
				"industrial":        340,
			},
			SolidsRanges: map[string]string{
				"water_based":   "35-55%",
				"solvent_based": "40-70%",
				"high_solid":    "70-90%",
			},
		},
		CompatibilityMatrix: map[string]CompatibilityRule{
			"epoxy_amine":             {Compatible: true, Notes: "Standard curing system"},
			"epoxy_water":             {Compatible: false, Notes: "Waterborne use needs a dedicated emulsion grade"},
			"polyurethane_isocyanate": {Compatible: true, Notes: "Two-component system"},
			"acrylic_water":           {Compatible: true, Notes: "Well suited to waterborne formulations"},
		},
	}
}
