// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package router decides where each prediction or recommendation
// request is served: the external online service, the local engine, or
// a rule-based last resort. Advisory requests never propagate hard
// failures; the router always degrades to the best available answer.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/knowledge"
	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/metrics"
	"github.com/formetric/formetric/internal/recipe"
)

// Mode selects the routing policy.
type Mode string

const (
	// ModeAuto prefers online when its health probe passes.
	ModeAuto Mode = "auto"
	// ModeLocal never contacts the online service.
	ModeLocal Mode = "local"
	// ModeOnline always tries online first.
	ModeOnline Mode = "online"
)

// Source identifies which path actually served a request.
const (
	SourceOnline   = "online"
	SourceLocal    = "local"
	SourceFallback = "fallback"
)

// healthProbeTTL caches the online health probe so AUTO mode does not
// hit the remote health endpoint on every request.
const healthProbeTTL = 30 * time.Second

// RoutedPrediction annotates a prediction with its serving source.
type RoutedPrediction struct {
	*forecast.Prediction

	// Source is "online", "local", or "fallback".
	Source string `json:"source"`

	// FallbackReason is set when Source is not the mode's first choice.
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// SampleSource supplies recent trial data for the rule-based last
// resort. Implemented by the store.
type SampleSource interface {
	SamplesByProject(ctx context.Context, projectID string) ([]recipe.TrainingSample, error)
}

// LearnerSource yields the local learner serving a project. Implemented
// by the training worker, which owns the learner registry.
type LearnerSource interface {
	LearnerFor(projectID string) forecast.Learner
	GlobalLearner() forecast.Learner
}

// Recommender is the local substitution engine. Implemented by
// knowledge.Base.
type Recommender interface {
	RecommendAlternatives(ctx context.Context, category, material string, opts knowledge.RecommendOptions) []knowledge.Recommendation
}

// Router routes prediction requests between serving paths.
type Router struct {
	mode        Mode
	online      *OnlineClient
	learners    LearnerSource
	samples     SampleSource
	recommender Recommender
	logger      zerolog.Logger

	probeMu   sync.Mutex
	probedAt  time.Time
	probeGood bool
}

// Options configures a Router.
type Options struct {
	Mode   Mode
	Online ClientOptions

	// Recommender backs the local path of Recommend; nil leaves only
	// the online path and the advisory note.
	Recommender Recommender
}

// New builds a router over the local learners. The online client is
// only created when an endpoint is configured; without one, AUTO
// behaves as LOCAL.
func New(opts Options, learners LearnerSource, samples SampleSource) *Router {
	r := &Router{
		mode:        opts.Mode,
		learners:    learners,
		samples:     samples,
		recommender: opts.Recommender,
		logger:      logging.Logger().With().Str("component", "router").Logger(),
	}
	if r.mode == "" {
		r.mode = ModeAuto
	}
	if opts.Online.Endpoint != "" {
		r.online = NewOnlineClient(opts.Online)
	}
	return r
}

// Predict routes one prediction request. The returned prediction is
// always non-nil when error is nil; a hard error occurs only when every
// path, including the rule-based last resort, has nothing to offer.
func (r *Router) Predict(ctx context.Context, projectID string, features []float64) (*RoutedPrediction, error) {
	if r.useOnline(ctx) {
		pred, err := r.online.Predict(ctx, projectID, features)
		if err == nil {
			metrics.RouterRequestsTotal.WithLabelValues(SourceOnline).Inc()
			return &RoutedPrediction{Prediction: pred, Source: SourceOnline}, nil
		}
		reason := fallbackReason(err)
		metrics.RouterFallbacksTotal.WithLabelValues(reason).Inc()
		r.logger.Warn().Err(err).Str("reason", reason).Msg("Online prediction failed, falling back to local")
		return r.predictLocal(ctx, projectID, features, reason)
	}
	return r.predictLocal(ctx, projectID, features, "")
}

func (r *Router) predictLocal(ctx context.Context, projectID string, features []float64, fallbackFrom string) (*RoutedPrediction, error) {
	pred, err := r.learners.LearnerFor(projectID).Predict(ctx, features)
	if err == nil {
		metrics.RouterRequestsTotal.WithLabelValues(SourceLocal).Inc()
		return &RoutedPrediction{Prediction: pred, Source: SourceLocal, FallbackReason: fallbackFrom}, nil
	}
	if !errors.Is(err, forecast.ErrModelNotTrained) {
		return nil, err
	}

	// Last resort: a rule-based reading of recent trial data.
	rp, rerr := r.ruleBased(ctx, projectID)
	if rerr != nil {
		return nil, fmt.Errorf("router: no serving path available: %w", err)
	}
	metrics.RouterRequestsTotal.WithLabelValues(SourceFallback).Inc()
	metrics.RouterFallbacksTotal.WithLabelValues("model_not_trained").Inc()
	rp.FallbackReason = "model_not_trained"
	return rp, nil
}

// RoutedRecommendations annotates substitution advice with its serving
// source.
type RoutedRecommendations struct {
	Recommendations []knowledge.Recommendation `json:"recommendations"`

	// Source is "online", "local", or "fallback".
	Source string `json:"source"`

	// FallbackReason is set when Source is not the mode's first choice.
	FallbackReason string `json:"fallback_reason,omitempty"`

	// Note carries advisory context when the list is empty.
	Note string `json:"note,omitempty"`
}

// Recommend routes one substitution request under the same policy as
// Predict: online when eligible, then the local knowledge engine.
// Recommendations are advisory, so there is no hard error; an empty
// list with a note is the last resort.
func (r *Router) Recommend(ctx context.Context, category, material string, opts knowledge.RecommendOptions) *RoutedRecommendations {
	if r.useOnline(ctx) {
		recs, err := r.online.Recommend(ctx, category, material, opts)
		if err == nil {
			metrics.RouterRequestsTotal.WithLabelValues(SourceOnline).Inc()
			return &RoutedRecommendations{Recommendations: recs, Source: SourceOnline}
		}
		reason := fallbackReason(err)
		metrics.RouterFallbacksTotal.WithLabelValues(reason).Inc()
		r.logger.Warn().Err(err).Str("reason", reason).Msg("Online recommendation failed, falling back to local")
		return r.recommendLocal(ctx, category, material, opts, reason)
	}
	return r.recommendLocal(ctx, category, material, opts, "")
}

func (r *Router) recommendLocal(ctx context.Context, category, material string, opts knowledge.RecommendOptions, fallbackFrom string) *RoutedRecommendations {
	if r.recommender == nil {
		metrics.RouterRequestsTotal.WithLabelValues(SourceFallback).Inc()
		return &RoutedRecommendations{
			Source:         SourceFallback,
			FallbackReason: fallbackFrom,
			Note:           "no knowledge base configured",
		}
	}

	recs := r.recommender.RecommendAlternatives(ctx, category, material, opts)
	metrics.RouterRequestsTotal.WithLabelValues(SourceLocal).Inc()
	out := &RoutedRecommendations{Recommendations: recs, Source: SourceLocal, FallbackReason: fallbackFrom}
	if len(recs) == 0 {
		out.Note = "no substitutes known for this material"
	}
	return out
}

// ruleBased averages the project's recent trial results. Confidence is
// fixed low so callers can tell an average from a model estimate.
func (r *Router) ruleBased(ctx context.Context, projectID string) (*RoutedPrediction, error) {
	if r.samples == nil {
		return nil, errors.New("router: no sample source for rule-based fallback")
	}
	samples, err := r.samples.SamplesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("router: no trial data for rule-based fallback")
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range samples {
		for prop, v := range s.Results {
			sums[prop] += v
			counts[prop]++
		}
	}

	values := make(map[string]forecast.Estimate, len(sums))
	for prop, sum := range sums {
		mean := sum / float64(counts[prop])
		spread := 0.25 * mean
		if spread < 1 {
			spread = 1
		}
		values[prop] = forecast.Estimate{
			Value:      mean,
			Confidence: 0.2,
			Lower:      mean - spread,
			Upper:      mean + spread,
		}
	}
	return &RoutedPrediction{
		Prediction: &forecast.Prediction{Scope: "rule-based", Values: values},
		Source:     SourceFallback,
	}, nil
}

// useOnline decides whether this request should try the online path.
func (r *Router) useOnline(ctx context.Context) bool {
	if r.online == nil {
		return false
	}
	switch r.mode {
	case ModeLocal:
		return false
	case ModeOnline:
		return true
	default:
		return r.probeHealth(ctx)
	}
}

// probeHealth returns the cached online health, refreshing it after
// the TTL.
func (r *Router) probeHealth(ctx context.Context) bool {
	r.probeMu.Lock()
	defer r.probeMu.Unlock()

	if time.Since(r.probedAt) < healthProbeTTL {
		return r.probeGood
	}
	r.probeGood = r.online.Healthy(ctx)
	r.probedAt = time.Now()
	if !r.probeGood {
		r.logger.Debug().Msg("Online health probe failed, auto mode serving locally")
	}
	return r.probeGood
}

// ModeStatus is the router's observable state.
type ModeStatus struct {
	Mode          Mode      `json:"mode"`
	OnlineEnabled bool      `json:"online_enabled"`
	OnlineHealthy bool      `json:"online_healthy"`
	BreakerState  string    `json:"breaker_state,omitempty"`
	LastProbe     time.Time `json:"last_probe"`
	GlobalTrained bool      `json:"global_trained"`
}

// Status reports the current routing state without triggering probes.
func (r *Router) Status() ModeStatus {
	s := ModeStatus{
		Mode:          r.mode,
		OnlineEnabled: r.online != nil,
		GlobalTrained: r.learners.GlobalLearner().IsTrained(),
	}
	if r.online != nil {
		s.BreakerState = r.online.BreakerState()
		r.probeMu.Lock()
		s.OnlineHealthy = r.probeGood
		s.LastProbe = r.probedAt
		r.probeMu.Unlock()
	}
	return s
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.Contains(err.Error(), "returned"):
		return "bad_response"
	default:
		return "unreachable"
	}
}
