// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package worker runs background model training under Suture supervision.
//
// The Trainer owns the learner registry: one EnsembleLearner per project
// plus a global learner over the cross-project pool. Sample writes call
// Schedule, which debounces rapid triggers into a single training pass.
// Training runs serially inside the Serve loop, so there is never more
// than one fit in flight.
package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/recipe"
)

// GlobalScope is the model-store scope of the cross-project learner.
// Project IDs must not collide with it.
const GlobalScope = "global"

// Store is the persistence surface the trainer needs.
type Store interface {
	SamplesByProject(ctx context.Context, projectID string) ([]recipe.TrainingSample, error)
	AllSamples(ctx context.Context) ([]recipe.TrainingSample, error)
	SaveModel(ctx context.Context, scope string, bundle *forecast.Bundle) error
	LoadModel(ctx context.Context, scope string) (*forecast.Bundle, error)
	ModelScopes(ctx context.Context) ([]string, error)
}

// Options configures the training worker.
type Options struct {
	// Debounce collapses rapid Schedule calls into one training pass.
	Debounce time.Duration

	// RefreshInterval retrains every known scope periodically. Zero
	// disables the refresh ticker.
	RefreshInterval time.Duration

	// Forecast configures project learners.
	Forecast forecast.Options

	// GlobalMinSamples overrides Forecast.MinSamples for the global
	// learner, which pools heterogeneous projects and needs more data.
	GlobalMinSamples int

	// BlendFullWeight is passed through to blended learners.
	BlendFullWeight int

	// OnRunComplete, when set, is called after each scope finishes a
	// training run, successful or not. Called from the training
	// goroutine; keep it fast.
	OnRunComplete func(RunInfo)
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.GlobalMinSamples <= 0 {
		o.GlobalMinSamples = 10
	}
	if o.BlendFullWeight <= 0 {
		o.BlendFullWeight = 10
	}
	return o
}

// RunInfo records the outcome of one training run for a scope.
type RunInfo struct {
	Scope       string    `json:"scope"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	SampleCount int       `json:"sample_count"`
	Error       string    `json:"error,omitempty"`
}

// Status is a point-in-time view of the trainer.
type Status struct {
	Training bool               `json:"training"`
	Pending  []string           `json:"pending,omitempty"`
	LastRuns map[string]RunInfo `json:"last_runs,omitempty"`
}

// Trainer implements suture.Service. It reacts to Schedule triggers and
// the periodic refresh ticker, retraining learners from stored samples
// and persisting the resulting bundles.
type Trainer struct {
	store  Store
	opts   Options
	logger zerolog.Logger
	notify chan struct{}

	mu       sync.RWMutex
	projects map[string]*forecast.EnsembleLearner
	global   *forecast.EnsembleLearner
	pending  map[string]struct{}
	training bool
	lastRuns map[string]RunInfo
}

// New creates a Trainer. Learners are registered lazily on first use;
// call Restore before Serve to rehydrate persisted models.
func New(store Store, opts Options) *Trainer {
	opts = opts.withDefaults()

	globalOpts := opts.Forecast
	globalOpts.MinSamples = opts.GlobalMinSamples

	return &Trainer{
		store:    store,
		opts:     opts,
		logger:   logging.With().Str("component", "trainer").Logger(),
		notify:   make(chan struct{}, 1),
		projects: make(map[string]*forecast.EnsembleLearner),
		global:   forecast.NewGlobalLearner(globalOpts),
		pending:  make(map[string]struct{}),
		lastRuns: make(map[string]RunInfo),
	}
}

// LearnerFor returns the blended learner serving a project: its own
// model weighted against the global pool by project sample count.
func (t *Trainer) LearnerFor(projectID string) forecast.Learner {
	return forecast.NewBlendedLearner(t.projectLearner(projectID), t.global, t.opts.BlendFullWeight)
}

// GlobalLearner returns the cross-project learner.
func (t *Trainer) GlobalLearner() forecast.Learner { return t.global }

// projectLearner registers a project learner on first use.
func (t *Trainer) projectLearner(projectID string) *forecast.EnsembleLearner {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.projects[projectID]; ok {
		return l
	}
	l := forecast.NewProjectLearner(projectID, t.opts.Forecast)
	t.projects[projectID] = l
	return l
}

// Schedule queues a project for retraining. The call never blocks: the
// project joins the pending set and the Serve loop picks it up after
// the debounce window. The global learner retrains alongside, since any
// new sample changes the pool.
func (t *Trainer) Schedule(projectID string) {
	t.mu.Lock()
	t.pending[projectID] = struct{}{}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Restore rehydrates learners from persisted model bundles. Bundles
// that fail to restore (version drift, truncated writes) are logged and
// skipped; the next training pass rebuilds them from samples.
func (t *Trainer) Restore(ctx context.Context) error {
	scopes, err := t.store.ModelScopes(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, scope := range scopes {
		bundle, err := t.store.LoadModel(ctx, scope)
		if err != nil {
			t.logger.Warn().Str("scope", scope).Err(err).Msg("failed to load persisted model")
			continue
		}

		target := t.global
		if scope != GlobalScope {
			target = t.projectLearner(scope)
		}
		if err := target.Restore(bundle); err != nil {
			t.logger.Warn().Str("scope", scope).Err(err).Msg("failed to restore persisted model")
			continue
		}
		restored++
	}

	if restored > 0 {
		t.logger.Info().Int("models", restored).Msg("restored persisted models")
	}
	return nil
}

// ScheduleStored queues a training pass for every project that has
// samples in the store. Called once at startup so models rebuild
// without waiting for the next trial or periodic refresh.
func (t *Trainer) ScheduleStored(ctx context.Context) error {
	samples, err := t.store.AllSamples(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for _, s := range samples {
		if _, ok := seen[s.ProjectID]; ok {
			continue
		}
		seen[s.ProjectID] = struct{}{}
		t.Schedule(s.ProjectID)
	}
	return nil
}

// Serve implements the suture.Service interface. It runs the debounced
// training loop until the context is cancelled.
func (t *Trainer) Serve(ctx context.Context) error {
	t.logger.Info().
		Dur("debounce", t.opts.Debounce).
		Dur("refresh_interval", t.opts.RefreshInterval).
		Msg("training worker starting")

	var debounce *time.Timer
	var debounceC <-chan time.Time

	var refreshC <-chan time.Time
	if t.opts.RefreshInterval > 0 {
		ticker := time.NewTicker(t.opts.RefreshInterval)
		defer ticker.Stop()
		refreshC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("training worker shutting down")
			return ctx.Err()

		case <-t.notify:
			if debounce == nil {
				debounce = time.NewTimer(t.opts.Debounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					<-debounce.C
				}
				debounce.Reset(t.opts.Debounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			t.runPending(ctx)

		case <-refreshC:
			t.logger.Debug().Msg("periodic refresh triggered")
			t.scheduleKnown()
			t.runPending(ctx)
		}
	}
}

// String returns the service name for supervisor logging.
func (t *Trainer) String() string { return "trainer" }

// scheduleKnown marks every registered project pending.
func (t *Trainer) scheduleKnown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.projects {
		t.pending[id] = struct{}{}
	}
}

// runPending drains the pending set and trains each project plus the
// global pool. Runs serially; cancellation stops between scopes.
func (t *Trainer) runPending(ctx context.Context) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(t.pending))
	for id := range t.pending {
		batch = append(batch, id)
	}
	t.pending = make(map[string]struct{})
	t.training = true
	t.mu.Unlock()

	sort.Strings(batch)

	defer func() {
		t.mu.Lock()
		t.training = false
		t.mu.Unlock()
	}()

	for _, projectID := range batch {
		if ctx.Err() != nil {
			return
		}
		t.trainScope(ctx, projectID)
	}

	if ctx.Err() != nil {
		return
	}
	t.trainScope(ctx, GlobalScope)
}

// trainScope loads samples, trains the scope's learner, and persists
// the resulting bundle. Insufficient data is expected for young
// projects and logged at debug; other failures at warn.
func (t *Trainer) trainScope(ctx context.Context, scope string) {
	info := RunInfo{Scope: scope, StartedAt: time.Now().UTC()}
	defer func() {
		info.FinishedAt = time.Now().UTC()
		t.mu.Lock()
		t.lastRuns[scope] = info
		t.mu.Unlock()
		if t.opts.OnRunComplete != nil {
			t.opts.OnRunComplete(info)
		}
	}()

	var samples []recipe.TrainingSample
	var err error
	var learner *forecast.EnsembleLearner

	if scope == GlobalScope {
		learner = t.global
		samples, err = t.store.AllSamples(ctx)
	} else {
		learner = t.projectLearner(scope)
		samples, err = t.store.SamplesByProject(ctx, scope)
	}
	if err != nil {
		info.Error = err.Error()
		t.logger.Warn().Str("scope", scope).Err(err).Msg("failed to load training samples")
		return
	}
	info.SampleCount = len(samples)

	if err := learner.Train(ctx, samples); err != nil {
		info.Error = err.Error()
		if errors.Is(err, forecast.ErrInsufficientData) {
			t.logger.Debug().Str("scope", scope).Int("samples", len(samples)).
				Msg("not enough samples to train")
		} else {
			t.logger.Warn().Str("scope", scope).Err(err).Msg("training failed")
		}
		return
	}

	bundle := learner.Snapshot()
	if bundle == nil {
		return
	}
	if err := t.store.SaveModel(ctx, scope, bundle); err != nil {
		info.Error = err.Error()
		t.logger.Warn().Str("scope", scope).Err(err).Msg("failed to persist model")
	}
}

// Status reports the trainer state for the status endpoint.
func (t *Trainer) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Status{Training: t.training}
	if len(t.pending) > 0 {
		st.Pending = make([]string, 0, len(t.pending))
		for id := range t.pending {
			st.Pending = append(st.Pending, id)
		}
		sort.Strings(st.Pending)
	}
	if len(t.lastRuns) > 0 {
		st.LastRuns = make(map[string]RunInfo, len(t.lastRuns))
		for scope, info := range t.lastRuns {
			st.LastRuns[scope] = info
		}
	}
	return st
}
