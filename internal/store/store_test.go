// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/recipe"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeSample(projectID string, binderRatio float64) recipe.TrainingSample {
	features := make([]float64, recipe.FeatureCount)
	features[0] = binderRatio
	return recipe.TrainingSample{
		ProjectID: projectID,
		Features:  features,
		Results:   map[string]float64{"gloss": 40 + 100*binderRatio},
	}
}

func TestAddSampleAssignsIdentity(t *testing.T) {
	s := openTestStore(t)

	stored, err := s.AddSample(context.Background(), makeSample("p1", 0.4))
	if err != nil {
		t.Fatalf("AddSample() error = %v", err)
	}
	if stored.ID == "" {
		t.Error("AddSample() did not assign an ID")
	}
	if stored.CreatedAt.IsZero() {
		t.Error("AddSample() did not set CreatedAt")
	}
}

func TestAddSampleValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddSample(ctx, recipe.TrainingSample{Features: make([]float64, recipe.FeatureCount)}); err == nil {
		t.Error("AddSample() accepted a sample without a project id")
	}
	if _, err := s.AddSample(ctx, recipe.TrainingSample{ProjectID: "p1", Features: []float64{1, 2}}); err == nil {
		t.Error("AddSample() accepted a sample with a short feature vector")
	}
}

func TestSamplesByProjectIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.AddSample(ctx, makeSample("p1", 0.3+0.05*float64(i))); err != nil {
			t.Fatalf("AddSample(p1) error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := s.AddSample(ctx, makeSample("p2", 0.5)); err != nil {
			t.Fatalf("AddSample(p2) error = %v", err)
		}
	}

	p1, err := s.SamplesByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("SamplesByProject() error = %v", err)
	}
	if len(p1) != 3 {
		t.Errorf("SamplesByProject(p1) = %d samples, want 3", len(p1))
	}
	for _, sample := range p1 {
		if sample.ProjectID != "p1" {
			t.Errorf("sample %s has project %q, want p1", sample.ID, sample.ProjectID)
		}
	}

	all, err := s.AllSamples(ctx)
	if err != nil {
		t.Fatalf("AllSamples() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("AllSamples() = %d samples, want 5", len(all))
	}

	n, err := s.CountSamples(ctx, "p2")
	if err != nil {
		t.Fatalf("CountSamples() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CountSamples(p2) = %d, want 2", n)
	}
}

func TestDeleteSample(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stored, err := s.AddSample(ctx, makeSample("p1", 0.4))
	if err != nil {
		t.Fatalf("AddSample() error = %v", err)
	}
	if err := s.DeleteSample(ctx, "p1", stored.ID); err != nil {
		t.Fatalf("DeleteSample() error = %v", err)
	}
	n, _ := s.CountSamples(ctx, "p1")
	if n != 0 {
		t.Errorf("CountSamples() = %d after delete, want 0", n)
	}

	// Deleting a missing sample is not an error.
	if err := s.DeleteSample(ctx, "p1", "nope"); err != nil {
		t.Errorf("DeleteSample(missing) error = %v", err)
	}
}

func TestModelRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadModel(ctx, "global"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadModel() error = %v, want ErrNotFound", err)
	}

	bundle := &forecast.Bundle{
		Version:     forecast.BundleVersion,
		Scope:       "global",
		SampleCount: 12,
		TrainedAt:   time.Now().UTC().Truncate(time.Second),
		Properties:  []string{"gloss"},
	}
	if err := s.SaveModel(ctx, "global", bundle); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}

	got, err := s.LoadModel(ctx, "global")
	if err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if got.SampleCount != 12 || got.Scope != "global" {
		t.Errorf("LoadModel() = %+v, want scope global with 12 samples", got)
	}

	scopes, err := s.ModelScopes(ctx)
	if err != nil {
		t.Fatalf("ModelScopes() error = %v", err)
	}
	if len(scopes) != 1 || scopes[0] != "global" {
		t.Errorf("ModelScopes() = %v, want [global]", scopes)
	}
}

func TestMaterialsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := []catalog.Material{
		{Code: "BinderA", Name: "Acrylic Resin", Category: "binder", UnitPrice: 5},
		{Code: "SolventB", Name: "Xylene", Category: "solvent", UnitPrice: 1},
	}
	if err := s.PutMaterials(ctx, in); err != nil {
		t.Fatalf("PutMaterials() error = %v", err)
	}

	out, err := s.Materials(ctx)
	if err != nil {
		t.Fatalf("Materials() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Materials() = %d records, want 2", len(out))
	}
	byCode := map[string]catalog.Material{}
	for _, m := range out {
		byCode[m.Code] = m
	}
	if byCode["BinderA"].UnitPrice != 5 {
		t.Errorf("BinderA price = %v, want 5", byCode["BinderA"].UnitPrice)
	}
}

func TestMaterialCache(t *testing.T) {
	c := NewMaterialCache(2, time.Minute)

	a := catalog.Material{Code: "A", UnitPrice: 1}
	b := catalog.Material{Code: "B", UnitPrice: 2}
	d := catalog.Material{Code: "D", UnitPrice: 3}

	c.Add(a)
	c.Add(b)
	if got, ok := c.Get("A"); !ok || got.UnitPrice != 1 {
		t.Fatalf("Get(A) = (%+v, %v), want hit", got, ok)
	}

	// B is now least recently used; adding D evicts it.
	c.Add(d)
	if _, ok := c.Get("B"); ok {
		t.Error("Get(B) hit after eviction")
	}
	if _, ok := c.Get("A"); !ok {
		t.Error("Get(A) missed, recently used entry was evicted")
	}

	if !c.Invalidate("A") {
		t.Error("Invalidate(A) = false for live entry")
	}
	if _, ok := c.Get("A"); ok {
		t.Error("Get(A) hit after invalidation")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
}

func TestMaterialCacheTTL(t *testing.T) {
	c := NewMaterialCache(10, 10*time.Millisecond)
	c.Add(catalog.Material{Code: "A"})

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("A"); ok {
		t.Error("Get(A) hit after TTL expiry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after lazy expiry, want 0", c.Len())
	}
}

func TestMaterialReadsThroughCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := []catalog.Material{{Code: "BinderA", Name: "Acrylic Resin", Category: "binder", UnitPrice: 5}}
	if err := s.PutMaterials(ctx, in); err != nil {
		t.Fatalf("PutMaterials() error = %v", err)
	}

	got, err := s.Material(ctx, "BinderA")
	if err != nil {
		t.Fatalf("Material() error = %v", err)
	}
	if got.UnitPrice != 5 {
		t.Errorf("UnitPrice = %v, want 5", got.UnitPrice)
	}
	if s.cache.Len() != 1 {
		t.Errorf("cache holds %d entries after a read, want 1", s.cache.Len())
	}

	if _, err := s.Material(ctx, "Unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Material() error = %v for unknown code, want ErrNotFound", err)
	}
}

func TestPutMaterialsInvalidatesCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := []catalog.Material{{Code: "BinderA", Name: "Acrylic Resin", Category: "binder", UnitPrice: 5}}
	if err := s.PutMaterials(ctx, in); err != nil {
		t.Fatalf("PutMaterials() error = %v", err)
	}
	if _, err := s.Material(ctx, "BinderA"); err != nil {
		t.Fatalf("Material() error = %v", err)
	}

	in[0].UnitPrice = 6
	if err := s.PutMaterials(ctx, in); err != nil {
		t.Fatalf("PutMaterials() error = %v", err)
	}

	got, err := s.Material(ctx, "BinderA")
	if err != nil {
		t.Fatalf("Material() error = %v", err)
	}
	if got.UnitPrice != 6 {
		t.Errorf("UnitPrice = %v after update, want 6 (stale cache entry served)", got.UnitPrice)
	}
}

func TestReplaceMaterialsDropsStaleRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutMaterials(ctx, []catalog.Material{
		{Code: "BinderA", Category: "binder", UnitPrice: 5},
		{Code: "SolventB", Category: "solvent", UnitPrice: 1},
	}); err != nil {
		t.Fatalf("PutMaterials() error = %v", err)
	}
	if _, err := s.Material(ctx, "BinderA"); err != nil {
		t.Fatalf("Material() error = %v", err)
	}

	if err := s.ReplaceMaterials(ctx, []catalog.Material{
		{Code: "BinderZ", Category: "binder", UnitPrice: 3},
	}); err != nil {
		t.Fatalf("ReplaceMaterials() error = %v", err)
	}

	out, err := s.Materials(ctx)
	if err != nil {
		t.Fatalf("Materials() error = %v", err)
	}
	if len(out) != 1 || out[0].Code != "BinderZ" {
		t.Errorf("Materials() = %+v, want only BinderZ", out)
	}
	// The cached copy of the dropped record must be gone too.
	if _, err := s.Material(ctx, "BinderA"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Material() error = %v for dropped code, want ErrNotFound", err)
	}
}
