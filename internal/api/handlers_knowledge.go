// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formetric/formetric/internal/knowledge"
	"github.com/formetric/formetric/internal/recipe"
)

// KnowledgeCategories handles GET /api/v1/knowledge/categories.
func (h *Handler) KnowledgeCategories(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     h.kb.Categories(),
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// KnowledgeRules handles GET /api/v1/knowledge/rules.
// Returns CPVC ranges, VOC limits, and solids ranges.
func (h *Handler) KnowledgeRules(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     h.kb.Rules(),
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// AddKnowledgeMaterial handles PUT /api/v1/knowledge/materials/{category}/{key}.
// Adds or replaces a material entry and persists the document.
func (h *Handler) AddKnowledgeMaterial(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	key := chi.URLParam(r, "key")
	if category == "" || key == "" {
		respondError(w, http.StatusBadRequest, "INVALID_MATERIAL", "Category and key are required", nil)
		return
	}

	var entry knowledge.Entry
	if err := decodeBody(w, r, &entry); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}

	if err := h.kb.AddMaterial(category, key, entry); err != nil {
		respondError(w, http.StatusInternalServerError, "KNOWLEDGE_ERROR", "Failed to save material", err)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]string{"category": category, "key": key},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// alternativesRequest asks for substitutes of one material. Recipe and
// ProjectID are optional; when a recipe is given, the project's forward
// model weighs in on each substitute.
type alternativesRequest struct {
	Category         string                  `json:"category"`
	Material         string                  `json:"material"`
	TargetProperties knowledge.Properties    `json:"target_properties,omitempty"`
	Prohibited       []string                `json:"prohibited,omitempty"`
	History          []knowledge.Formulation `json:"history,omitempty"`
	Recipe           recipe.Recipe           `json:"recipe,omitempty"`
	ProjectID        string                  `json:"project_id,omitempty"`
}

// RecommendAlternatives handles POST /api/v1/knowledge/alternatives.
// The request goes through the router, so online and local serving
// follow the same policy as predictions.
func (h *Handler) RecommendAlternatives(w http.ResponseWriter, r *http.Request) {
	var req alternativesRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}
	if req.Category == "" || req.Material == "" {
		respondError(w, http.StatusBadRequest, "INVALID_MATERIAL", "Category and material are required", nil)
		return
	}

	opts := knowledge.RecommendOptions{
		TargetProperties: req.TargetProperties,
		Prohibited:       req.Prohibited,
		History:          req.History,
	}
	if len(req.Recipe.Components) > 0 {
		opts.Recipe = req.Recipe
		opts.Transformer = h.transformer()
		opts.Predictor = h.trainer.LearnerFor(req.ProjectID)
	}

	routed := h.router.Recommend(r.Context(), req.Category, req.Material, opts)
	if routed.Recommendations == nil {
		routed.Recommendations = []knowledge.Recommendation{}
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alternatives":    routed.Recommendations,
			"count":           len(routed.Recommendations),
			"source":          routed.Source,
			"fallback_reason": routed.FallbackReason,
			"note":            routed.Note,
		},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// similarRequest asks for historical formulations close to a target.
type similarRequest struct {
	Target  knowledge.Formulation   `json:"target"`
	History []knowledge.Formulation `json:"history"`
	TopN    int                     `json:"top_n,omitempty"`
}

// SimilarFormulations handles POST /api/v1/knowledge/similar.
func (h *Handler) SimilarFormulations(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}
	if len(req.Target.Components) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_TARGET", "Target formulation needs components", nil)
		return
	}

	matches := knowledge.FindSimilarFormulations(req.Target, req.History, req.TopN)
	if matches == nil {
		matches = []knowledge.Similarity{}
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"matches": matches,
			"count":   len(matches),
		},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// suggestionsRequest asks for rule-driven improvement advice.
type suggestionsRequest struct {
	Facts knowledge.FormulationFacts `json:"facts"`
	Goal  knowledge.ImprovementGoal  `json:"goal,omitempty"`
}

// SuggestImprovements handles POST /api/v1/knowledge/suggestions.
func (h *Handler) SuggestImprovements(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}

	suggestions := h.kb.SuggestImprovements(req.Facts, req.Goal)
	if suggestions == nil {
		suggestions = []knowledge.Suggestion{}
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"suggestions": suggestions,
			"count":       len(suggestions),
		},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}
