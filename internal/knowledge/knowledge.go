// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package knowledge holds the chemistry knowledge base: curated material
// entries with property levels, compatibility relations and substitute
// lists, plus the recommenders built on top of it. The base ships with a
// built-in default document and persists edits as JSON.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/metrics"
)

// Properties maps a property name to its level on a 1-10 scale.
type Properties map[string]float64

// Entry is one curated material record.
type Entry struct {
	Name             string     `json:"name"`
	Properties       Properties `json:"properties"`
	CompatibleWith   []string   `json:"compatible_with,omitempty"`
	IncompatibleWith []string   `json:"incompatible_with,omitempty"`
	TypicalUsage     []string   `json:"typical_usage,omitempty"`
	Substitutes      []string   `json:"substitutes,omitempty"`

	// SubstitutionNotes carries curator guidance shown verbatim in
	// recommendations.
	SubstitutionNotes string `json:"substitution_notes,omitempty"`
}

// CompatibilityRule records whether a material pairing works.
type CompatibilityRule struct {
	Compatible bool   `json:"compatible"`
	Notes      string `json:"notes,omitempty"`
}

// FormulationRules holds the rule-of-thumb thresholds used by the
// improvement suggester.
type FormulationRules struct {
	// CPVCRanges maps finish type to its typical CPVC band.
	CPVCRanges map[string]string `json:"typical_cpvc_ranges,omitempty"`

	// VOCLimits in g/L per application class.
	VOCLimits map[string]float64 `json:"voc_limits,omitempty"`

	// SolidsRanges maps system type to its typical solids band.
	SolidsRanges map[string]string `json:"solids_ranges,omitempty"`
}

// Document is the complete serializable knowledge base.
type Document struct {
	// MaterialCategories maps category → material key → entry.
	MaterialCategories map[string]map[string]Entry `json:"material_categories"`

	FormulationRules FormulationRules `json:"formulation_rules"`

	// CompatibilityMatrix keys are "<a>_<b>" pairs.
	CompatibilityMatrix map[string]CompatibilityRule `json:"compatibility_matrix,omitempty"`
}

// Base is the thread-safe knowledge store. Reads take the shared lock;
// writes replace the document and persist it.
type Base struct {
	path   string
	logger zerolog.Logger

	mu  sync.RWMutex
	doc *Document
}

// Open loads the knowledge base from path, falling back to the built-in
// default document when the file is missing or unreadable. An empty
// path keeps the base memory-only.
func Open(path string) *Base {
	b := &Base{
		path:   path,
		logger: logging.Logger().With().Str("component", "knowledge").Logger(),
	}
	b.doc = b.load()
	return b
}

func (b *Base) load() *Document {
	if b.path == "" {
		return defaultDocument()
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn().Err(err).Str("path", b.path).Msg("Knowledge base unreadable, using defaults")
		}
		return defaultDocument()
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		b.logger.Warn().Err(err).Str("path", b.path).Msg("Knowledge base corrupt, using defaults")
		return defaultDocument()
	}
	if doc.MaterialCategories == nil {
		doc.MaterialCategories = make(map[string]map[string]Entry)
	}
	return &doc
}

// Save persists the current document atomically: marshal to a temp file
// in the same directory, then rename over the target. A failed write
// reloads the last good on-disk snapshot so memory never drifts from an
// unpersistable state.
func (b *Base) Save() error {
	if b.path == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveLocked()
}

func (b *Base) saveLocked() error {
	data, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		metrics.KnowledgeWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("knowledge: marshal: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		metrics.KnowledgeWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("knowledge: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".knowledge-*.json")
	if err != nil {
		metrics.KnowledgeWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("knowledge: temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, b.path)
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		metrics.KnowledgeWritesTotal.WithLabelValues("error").Inc()
		b.doc = b.load()
		return fmt.Errorf("knowledge: write %s: %w", b.path, werr)
	}

	metrics.KnowledgeWritesTotal.WithLabelValues("success").Inc()
	b.logger.Info().Str("path", b.path).Msg("Knowledge base saved")
	return nil
}

// AddMaterial inserts or replaces a material entry and persists.
func (b *Base) AddMaterial(category, key string, entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doc.MaterialCategories == nil {
		b.doc.MaterialCategories = make(map[string]map[string]Entry)
	}
	if b.doc.MaterialCategories[category] == nil {
		b.doc.MaterialCategories[category] = make(map[string]Entry)
	}
	b.doc.MaterialCategories[category][key] = entry
	return b.saveLocked()
}

// Entry looks a material up by key or display name within a category.
func (b *Base) Entry(category, material string) (key string, entry Entry, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.findLocked(category, material)
}

func (b *Base) findLocked(category, material string) (string, Entry, bool) {
	cat, ok := b.doc.MaterialCategories[category]
	if !ok {
		return "", Entry{}, false
	}
	if e, ok := cat[material]; ok {
		return material, e, true
	}
	lower := strings.ToLower(material)
	for k, e := range cat {
		if strings.ToLower(e.Name) == lower {
			return k, e, true
		}
	}
	return "", Entry{}, false
}

// Categories returns the category names in sorted order.
func (b *Base) Categories() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.doc.MaterialCategories))
	for c := range b.doc.MaterialCategories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Rules returns a copy of the formulation rules.
func (b *Base) Rules() FormulationRules {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.FormulationRules
}
