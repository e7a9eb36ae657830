// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package catalog

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want Category
	}{
		{"Binder", CategoryBinder},
		{"Epoxy Resin", CategoryBinder},
		{"acrylic polymer dispersion", CategoryBinder},
		{"Pigment", CategoryPigment},
		{"mineral filler", CategoryPigment},
		{"extender", CategoryPigment},
		{"Solvent", CategorySolvent},
		{"thinner blend", CategorySolvent},
		{"demineralized water", CategorySolvent},
		{"Additive", CategoryAdditive},
		{"defoamer", CategoryAdditive},
		{"", CategoryAdditive},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Classify(tt.raw); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func testMaterials() []Material {
	return []Material{
		{Code: "B-100", Name: "Acrylic Resin", Category: "binder", UnitPrice: 4.2},
		{Code: "B-200", Name: "Epoxy Resin", Category: "resin", UnitPrice: 6.1},
		{Code: "B-300", Name: "Alkyd Resin", Category: "binder", UnitPrice: 2.8},
		{Code: "B-400", Name: "PU Resin", Category: "binder", UnitPrice: 7.0},
		{Code: "P-100", Name: "TiO2", Category: "pigment", UnitPrice: 3.5},
		{Code: "P-200", Name: "CaCO3", Category: "filler", UnitPrice: 0.4},
		{Code: "S-100", Name: "Xylene", Category: "solvent", UnitPrice: 1.2},
		{Code: "A-100", Name: "Defoamer", Category: "additive", UnitPrice: 9.5},
		{Code: "A-200", Name: "Dispersant", Category: "additive", UnitPrice: 8.0},
		{Code: "A-300", Name: "Thickener", Category: "additive", UnitPrice: 5.5},
	}
}

func TestCatalogLookup(t *testing.T) {
	c := New(testMaterials())

	if c.Len() != 10 {
		t.Errorf("Len() = %d, want 10", c.Len())
	}

	m, ok := c.Get("P-100")
	if !ok {
		t.Fatal("Get(P-100) not found")
	}
	if m.Name != "TiO2" {
		t.Errorf("Get(P-100).Name = %q, want TiO2", m.Name)
	}

	if _, ok := c.Get("ZZ-999"); ok {
		t.Error("Get(ZZ-999) should not be found")
	}
}

func TestByClassSortsCheapestFirst(t *testing.T) {
	c := New(testMaterials())

	binders := c.ByClass(CategoryBinder)
	if len(binders) != 4 {
		t.Fatalf("ByClass(binder) len = %d, want 4", len(binders))
	}
	for i := 1; i < len(binders); i++ {
		if binders[i-1].UnitPrice > binders[i].UnitPrice {
			t.Errorf("binders not sorted by price: %v before %v",
				binders[i-1].UnitPrice, binders[i].UnitPrice)
		}
	}
}

func TestPanelComposition(t *testing.T) {
	c := New(testMaterials())
	panel := c.Panel()

	counts := map[Category]int{}
	for _, m := range panel {
		counts[m.Class()]++
	}

	if counts[CategoryBinder] != 3 {
		t.Errorf("panel binders = %d, want 3", counts[CategoryBinder])
	}
	if counts[CategoryPigment] != 2 {
		t.Errorf("panel pigments = %d, want 2", counts[CategoryPigment])
	}
	if counts[CategorySolvent] != 1 {
		t.Errorf("panel solvents = %d, want 1", counts[CategorySolvent])
	}
	if counts[CategoryAdditive] != 2 {
		t.Errorf("panel additives = %d, want 2", counts[CategoryAdditive])
	}
}

func TestPanelFallsBackToAll(t *testing.T) {
	// Empty catalog yields an empty panel rather than panicking.
	c := New(nil)
	if got := c.Panel(); len(got) != 0 {
		t.Errorf("Panel() on empty catalog = %d materials, want 0", len(got))
	}
}

func TestDuplicateCodesKeepLatest(t *testing.T) {
	c := New([]Material{
		{Code: "B-100", Name: "Old", Category: "binder", UnitPrice: 1},
		{Code: "B-100", Name: "New", Category: "binder", UnitPrice: 2},
	})

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	m, _ := c.Get("B-100")
	if m.Name != "New" {
		t.Errorf("Get(B-100).Name = %q, want New", m.Name)
	}
}
