// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/formetric/formetric/internal/optimize"
	"github.com/formetric/formetric/internal/recipe"
)

// optimizeTimeout bounds one genetic search.
const optimizeTimeout = 60 * time.Second

// optimizeRequest is the body of an optimization run.
type optimizeRequest struct {
	Spec recipe.TargetSpec `json:"spec"`
}

// Optimize handles POST /api/v1/projects/{projectID}/optimize.
// Runs the genetic search against the project's blended forward model.
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	projectID := projectParam(r)
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PROJECT_ID", "Project ID is required", nil)
		return
	}

	var req optimizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", err)
		return
	}
	if err := req.Spec.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SPEC", err.Error(), err)
		return
	}

	// A seed query parameter makes a run reproducible; otherwise every
	// run explores differently.
	seed := int64(getIntParam(r, "seed", 0))
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	opt, err := optimize.New(h.Catalog(), h.transformer(), h.trainer.LearnerFor(projectID), optimize.Options{
		PopulationSize:     h.cfg.Optimizer.PopulationSize,
		Generations:        h.cfg.Optimizer.Generations,
		MutationRate:       h.cfg.Optimizer.MutationRate,
		TournamentK:        h.cfg.Optimizer.TournamentK,
		EliteCount:         h.cfg.Optimizer.EliteCount,
		TopK:               getIntParam(r, "top_k", h.cfg.Optimizer.TopK),
		PlateauGenerations: h.cfg.Optimizer.PlateauGenerations,
		ConstraintPenalty:  h.cfg.Optimizer.ConstraintPenalty,
		Seed:               seed,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "OPTIMIZER_ERROR", "Failed to build optimizer", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), optimizeTimeout)
	defer cancel()

	result, err := opt.Run(ctx, req.Spec)
	if err != nil {
		if errors.Is(err, optimize.ErrPredictorNotTrained) {
			respondError(w, http.StatusConflict, "MODEL_NOT_TRAINED", "Forward model is not trained yet; add trial data first", err)
			return
		}
		respondError(w, http.StatusBadRequest, "OPTIMIZATION_FAILED", "Optimization failed", err)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data:   result,
		Metadata: Metadata{
			Timestamp:   nowUTC(),
			QueryTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}
