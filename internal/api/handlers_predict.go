// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formetric/formetric/internal/recipe"
)

// predictTimeout bounds one prediction request, online path included.
const predictTimeout = 10 * time.Second

func projectParam(r *http.Request) string {
	return chi.URLParam(r, "projectID")
}

// predictRequest carries either a recipe or a raw feature vector.
type predictRequest struct {
	Recipe   *recipe.Recipe `json:"recipe,omitempty"`
	Features []float64      `json:"features,omitempty"`
}

// Predict handles POST /api/v1/projects/{projectID}/predict.
// Transforms the recipe and routes the prediction through the
// configured online/local path.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	projectID := projectParam(r)
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PROJECT_ID", "Project ID is required", nil)
		return
	}

	var req predictRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}

	features, vec, err := h.resolveFeatures(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_RECIPE", err.Error(), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), predictTimeout)
	defer cancel()

	pred, err := h.router.Predict(ctx, projectID, features)
	if err != nil {
		respondError(w, http.StatusConflict, "NO_SERVING_PATH", "No prediction path available; add trial data first", err)
		return
	}

	data := map[string]interface{}{
		"prediction": pred,
	}
	if vec != nil {
		data["features"] = vec
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data:   data,
		Metadata: Metadata{
			Timestamp:   nowUTC(),
			QueryTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

// resolveFeatures turns a predict request into a feature vector. A raw
// vector wins over a recipe when both are present.
func (h *Handler) resolveFeatures(req predictRequest) ([]float64, *recipe.Vector, error) {
	if len(req.Features) > 0 {
		if len(req.Features) != recipe.FeatureCount {
			return nil, nil, fmt.Errorf("feature vector has %d values, want %d", len(req.Features), recipe.FeatureCount)
		}
		return req.Features, nil, nil
	}
	if req.Recipe == nil || len(req.Recipe.Components) == 0 {
		return nil, nil, fmt.Errorf("request needs a recipe or a feature vector")
	}
	vec, err := h.transformer().Transform(*req.Recipe)
	if err != nil {
		return nil, nil, err
	}
	return vec.Features, vec, nil
}

// trialRequest records one lab trial: the recipe tried and the
// measured results.
type trialRequest struct {
	Recipe   *recipe.Recipe     `json:"recipe,omitempty"`
	Features []float64          `json:"features,omitempty"`
	Results  map[string]float64 `json:"results"`
}

// AddTrial handles POST /api/v1/projects/{projectID}/trials.
// Stores the sample and schedules a debounced retrain.
func (h *Handler) AddTrial(w http.ResponseWriter, r *http.Request) {
	projectID := projectParam(r)
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PROJECT_ID", "Project ID is required", nil)
		return
	}

	var req trialRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}
	if len(req.Results) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_TRIAL", "Trial needs at least one measured result", nil)
		return
	}

	features, _, err := h.resolveFeatures(predictRequest{Recipe: req.Recipe, Features: req.Features})
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_RECIPE", err.Error(), err)
		return
	}

	sample, err := h.store.AddSample(r.Context(), recipe.TrainingSample{
		ProjectID: projectID,
		Features:  features,
		Results:   req.Results,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to store trial", err)
		return
	}

	h.trainer.Schedule(projectID)

	respondJSON(w, http.StatusAccepted, &APIResponse{
		Status:   "success",
		Data:     sample,
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// ListTrials handles GET /api/v1/projects/{projectID}/trials.
func (h *Handler) ListTrials(w http.ResponseWriter, r *http.Request) {
	projectID := projectParam(r)
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PROJECT_ID", "Project ID is required", nil)
		return
	}

	samples, err := h.store.SamplesByProject(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "Failed to list trials", err)
		return
	}
	if samples == nil {
		samples = []recipe.TrainingSample{}
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"trials": samples,
			"count":  len(samples),
		},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}

// DeleteTrial handles DELETE /api/v1/projects/{projectID}/trials/{trialID}.
// Removal schedules a retrain so the model forgets the sample.
func (h *Handler) DeleteTrial(w http.ResponseWriter, r *http.Request) {
	projectID := projectParam(r)
	trialID := chi.URLParam(r, "trialID")
	if projectID == "" || trialID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_TRIAL_ID", "Project and trial IDs are required", nil)
		return
	}

	if err := h.store.DeleteSample(r.Context(), projectID, trialID); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to delete trial", err)
		return
	}

	h.trainer.Schedule(projectID)

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]string{"deleted": trialID},
		Metadata: Metadata{Timestamp: nowUTC()},
	})
}
