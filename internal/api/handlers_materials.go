// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formetric/formetric/internal/catalog"
)

// ListMaterials handles GET /api/v1/materials.
func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	materials := h.Catalog().All()
	if class := r.URL.Query().Get("category"); class != "" {
		materials = h.Catalog().ByClass(catalog.Classify(class))
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"materials": materials,
			"count":     len(materials),
		},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// GetMaterial handles GET /api/v1/materials/{code}.
// Single-record reads go through the store's LRU cache; the live
// catalog covers materials that were never persisted.
func (h *Handler) GetMaterial(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	m, err := h.store.Material(r.Context(), code)
	if err != nil {
		var ok bool
		m, ok = h.Catalog().Get(code)
		if !ok {
			respondError(w, http.StatusNotFound, "MATERIAL_NOT_FOUND", "Unknown material code", nil)
			return
		}
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     m,
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// ReplaceMaterials handles PUT /api/v1/materials.
// Persists the new material list and swaps the live catalog. In-flight
// requests finish against the old catalog.
func (h *Handler) ReplaceMaterials(w http.ResponseWriter, r *http.Request) {
	var materials []catalog.Material
	if err := decodeBody(w, r, &materials); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}
	if len(materials) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_MATERIALS", "Material list cannot be empty", nil)
		return
	}
	for _, m := range materials {
		if m.Code == "" {
			respondError(w, http.StatusBadRequest, "INVALID_MATERIALS", "Every material needs a code", nil)
			return
		}
	}

	if err := h.store.ReplaceMaterials(r.Context(), materials); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to persist materials", err)
		return
	}
	h.catalog.Store(catalog.New(materials))

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]int{"count": len(materials)},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}
