// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package api provides HTTP handlers and Chi routing for the Formetric
// service.
package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/config"
	"github.com/formetric/formetric/internal/knowledge"
	"github.com/formetric/formetric/internal/recipe"
	"github.com/formetric/formetric/internal/router"
	"github.com/formetric/formetric/internal/store"
	"github.com/formetric/formetric/internal/worker"
)

// Handler owns the HTTP surface. The catalog pointer is swapped
// atomically when materials are replaced, so in-flight requests keep a
// consistent view.
type Handler struct {
	cfg     *config.Config
	store   *store.Store
	kb      *knowledge.Base
	trainer *worker.Trainer
	router  *router.Router

	catalog atomic.Pointer[catalog.Catalog]
}

// NewHandler wires the service components into an HTTP handler set.
func NewHandler(cfg *config.Config, st *store.Store, kb *knowledge.Base, trainer *worker.Trainer, rt *router.Router, cat *catalog.Catalog) *Handler {
	h := &Handler{
		cfg:     cfg,
		store:   st,
		kb:      kb,
		trainer: trainer,
		router:  rt,
	}
	h.catalog.Store(cat)
	return h
}

// Catalog returns the current material catalog.
func (h *Handler) Catalog() *catalog.Catalog {
	return h.catalog.Load()
}

// transformer builds a recipe transformer over the current catalog.
// Transformers are stateless and cheap, so one per request keeps them
// consistent with catalog swaps.
func (h *Handler) transformer() *recipe.Transformer {
	return recipe.NewTransformer(h.Catalog(), recipe.TransformerOptions{
		Strict:       h.cfg.Transformer.Strict,
		SumTolerance: h.cfg.Transformer.SumTolerance,
	})
}

// HealthLive handles GET /api/v1/health/live.
// Liveness: the process is up and serving.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "alive"},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// HealthReady handles GET /api/v1/health/ready.
// Readiness: the store is open and the catalog is loaded.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.Catalog().Len() == 0 {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "Material catalog is empty", nil)
		return
	}
	if _, err := h.store.CountSamples(r.Context(), ""); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "Store is not available", err)
		return
	}
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "ready"},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// Status handles GET /api/v1/status.
// Returns trainer, router, and model state in one view.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	scopes, err := h.store.ModelScopes(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "Failed to list model scopes", err)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"trainer":          h.trainer.Status(),
			"router":           h.router.Status(),
			"global_model":     h.trainer.GlobalLearner().Status(),
			"persisted_scopes": scopes,
			"catalog_size":     h.Catalog().Len(),
		},
		Metadata: Metadata{
			Timestamp:   nowUTC(),
			QueryTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

// ModelStatus handles GET /api/v1/projects/{projectID}/model.
// Returns the blended model status serving one project.
func (h *Handler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	projectID := projectParam(r)
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PROJECT_ID", "Project ID is required", nil)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     h.trainer.LearnerFor(projectID).Status(),
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}
