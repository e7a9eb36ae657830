// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/knowledge"
	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/metrics"
)

// ErrRateLimited is returned when the online request budget is
// exhausted; the router treats it as a fallback trigger, not a failure
// of the remote service.
var ErrRateLimited = errors.New("router: online request rate limited")

// onlineRequest is the wire format sent to the remote prediction
// service.
type onlineRequest struct {
	ProjectID string    `json:"project_id,omitempty"`
	Features  []float64 `json:"features"`
}

// onlineResponse mirrors the remote service's reply.
type onlineResponse struct {
	Values map[string]forecast.Estimate `json:"values"`
}

// onlineRecommendRequest is the wire format for substitution requests.
type onlineRecommendRequest struct {
	Category         string               `json:"category"`
	Material         string               `json:"material"`
	TargetProperties knowledge.Properties `json:"target_properties,omitempty"`
	Prohibited       []string             `json:"prohibited,omitempty"`
}

// onlineRecommendResponse mirrors the remote service's reply.
type onlineRecommendResponse struct {
	Alternatives []knowledge.Recommendation `json:"alternatives"`
}

// OnlineClient calls the external prediction service. Every call goes
// through a token-bucket rate limiter and a circuit breaker, with a
// bounded per-call timeout, so a degraded remote can never stall or
// overwhelm the local engine.
//
// The breaker is shared across endpoints: a remote that fails
// predictions is not trusted with recommendations either.
type OnlineClient struct {
	base       string
	healthPath string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[any]
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// ClientOptions configures the online client.
type ClientOptions struct {
	// Endpoint is the service base URL.
	Endpoint string

	// HealthPath is the health probe path, default /healthz.
	HealthPath string

	// Timeout bounds each remote call, default 5s.
	Timeout time.Duration

	// RatePerSecond is the sustained request budget, default 5.
	RatePerSecond float64

	// Burst is the token bucket size, default 2x the rate.
	Burst int
}

// NewOnlineClient builds a client for the remote prediction service.
//
// Circuit breaker configuration: after 5 requests in the window, a 60%
// failure rate opens the circuit; half-open after 30 seconds with up to
// 2 trial requests.
func NewOnlineClient(opts ClientOptions) *OnlineClient {
	if opts.HealthPath == "" {
		opts.HealthPath = "/healthz"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = int(2 * opts.RatePerSecond)
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}

	logger := logging.Logger().With().Str("component", "router").Logger()
	metrics.RouterBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "online-predictor",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
			metrics.RouterBreakerState.Set(stateToFloat(to))
		},
	})

	return &OnlineClient{
		base:       opts.Endpoint,
		healthPath: opts.HealthPath,
		httpClient: &http.Client{Timeout: opts.Timeout},
		cb:         cb,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		logger:     logger,
	}
}

// Predict calls the remote service for one feature vector.
func (c *OnlineClient) Predict(ctx context.Context, projectID string, features []float64) (*forecast.Prediction, error) {
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}
	out, err := c.cb.Execute(func() (any, error) {
		return c.doPredict(ctx, projectID, features)
	})
	if err != nil {
		return nil, err
	}
	return out.(*forecast.Prediction), nil
}

// Recommend calls the remote service for material substitutes. Local
// context (recipe, predictor) stays local; only the declarative parts
// of the request go over the wire.
func (c *OnlineClient) Recommend(ctx context.Context, category, material string, opts knowledge.RecommendOptions) ([]knowledge.Recommendation, error) {
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}
	out, err := c.cb.Execute(func() (any, error) {
		return c.doRecommend(ctx, category, material, opts)
	})
	if err != nil {
		return nil, err
	}
	return out.([]knowledge.Recommendation), nil
}

func (c *OnlineClient) doRecommend(ctx context.Context, category, material string, opts knowledge.RecommendOptions) ([]knowledge.Recommendation, error) {
	body, err := json.Marshal(onlineRecommendRequest{
		Category:         category,
		Material:         material,
		TargetProperties: opts.TargetProperties,
		Prohibited:       opts.Prohibited,
	})
	if err != nil {
		return nil, fmt.Errorf("router: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/recommend", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("router: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("router: online call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("router: online service returned %d", resp.StatusCode)
	}

	var out onlineRecommendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("router: decode response: %w", err)
	}
	return out.Alternatives, nil
}

func (c *OnlineClient) doPredict(ctx context.Context, projectID string, features []float64) (*forecast.Prediction, error) {
	body, err := json.Marshal(onlineRequest{ProjectID: projectID, Features: features})
	if err != nil {
		return nil, fmt.Errorf("router: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("router: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("router: online call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("router: online service returned %d", resp.StatusCode)
	}

	var out onlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("router: decode response: %w", err)
	}
	if len(out.Values) == 0 {
		return nil, errors.New("router: online response has no values")
	}
	return &forecast.Prediction{Scope: "online", Values: out.Values}, nil
}

// Healthy probes the remote health endpoint with a short deadline.
func (c *OnlineClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+c.healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode == http.StatusOK
}

// BreakerState reports the circuit breaker state for observability.
func (c *OnlineClient) BreakerState() string {
	return stateToString(c.cb.State())
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
