// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes assembles the HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(prometheusMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		// Health stays unthrottled for liveness and readiness probes.
		r.Get("/health/live", h.HealthLive)
		r.Get("/health/ready", h.HealthReady)

		r.Group(func(r chi.Router) {
			if h.cfg.Server.RateLimitRequests > 0 {
				r.Use(httprate.LimitByRealIP(h.cfg.Server.RateLimitRequests, h.cfg.Server.RateLimitWindow))
			}

			r.Get("/status", h.Status)

			r.Get("/materials", h.ListMaterials)
			r.Put("/materials", h.ReplaceMaterials)
			r.Get("/materials/{code}", h.GetMaterial)

			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Post("/predict", h.Predict)
				r.Post("/optimize", h.Optimize)
				r.Get("/model", h.ModelStatus)

				r.Post("/trials", h.AddTrial)
				r.Get("/trials", h.ListTrials)
				r.Delete("/trials/{trialID}", h.DeleteTrial)
			})

			r.Route("/knowledge", func(r chi.Router) {
				r.Get("/categories", h.KnowledgeCategories)
				r.Get("/rules", h.KnowledgeRules)
				r.Put("/materials/{category}/{key}", h.AddKnowledgeMaterial)
				r.Post("/alternatives", h.RecommendAlternatives)
				r.Post("/similar", h.SimilarFormulations)
				r.Post("/suggestions", h.SuggestImprovements)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
