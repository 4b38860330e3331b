package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PurposeRouter resolves a Purpose to the model that serves it, from the
// purpose->model map its caller supplies (a purpose missing from the map
// uses the fallback model). codeframe runs as a single headless process
// against a fixed provider, so routing degenerates to a static map the
// operator edits by hand rather than a canary/health-weighted selection
// across a fleet of provider instances.
//
// It also shapes per-purpose QPS with golang.org/x/time/rate, so a
// runaway planning loop can't starve the review/correction purposes
// sharing the same provider.
type PurposeRouter struct {
	provider Provider
	models   map[Purpose]string
	limiters map[Purpose]*rate.Limiter
	fallback string
	logger   *zap.Logger
}

// NewPurposeRouter builds a router over provider using models as the
// purpose->model map. Any purpose absent from models falls back to
// fallback. limits optionally caps each purpose's request rate; a purpose
// absent from limits (or a nil limits map) is left unthrottled.
func NewPurposeRouter(provider Provider, models map[Purpose]string, fallback string, limits map[Purpose]rate.Limit, logger *zap.Logger) *PurposeRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[Purpose]string, len(models))
	for k, v := range models {
		m[k] = v
	}
	limiters := make(map[Purpose]*rate.Limiter, len(limits))
	for purpose, limit := range limits {
		limiters[purpose] = rate.NewLimiter(limit, 1)
	}
	return &PurposeRouter{provider: provider, models: m, limiters: limiters, fallback: fallback, logger: logger}
}

// ModelFor returns the model assigned to purpose, or the router's fallback
// if none is configured.
func (r *PurposeRouter) ModelFor(purpose Purpose) string {
	if model, ok := r.models[purpose]; ok && model != "" {
		return model
	}
	return r.fallback
}

// Complete fills req.Model from the purpose map (unless the caller already
// set one explicitly) and delegates to the underlying provider.
func (r *PurposeRouter) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = r.ModelFor(req.Purpose)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("purposerouter: no model configured for purpose %q and no fallback set", req.Purpose)
	}
	if limiter, ok := r.limiters[req.Purpose]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("purposerouter: rate limit wait for purpose %q: %w", req.Purpose, err)
		}
	}
	r.logger.Debug("routing completion",
		zap.String("purpose", string(req.Purpose)),
		zap.String("model", req.Model),
		zap.String("trace_id", req.TraceID),
	)
	return r.provider.Completion(ctx, req)
}

// Completion satisfies Provider by delegating to Complete, so a
// PurposeRouter can stand in anywhere a Provider is expected (the agent
// engine, the conductor's dependency-inference calls, etc.).
func (r *PurposeRouter) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return r.Complete(ctx, req)
}

func (r *PurposeRouter) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if req.Model == "" {
		req.Model = r.ModelFor(req.Purpose)
	}
	if limiter, ok := r.limiters[req.Purpose]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("purposerouter: rate limit wait for purpose %q: %w", req.Purpose, err)
		}
	}
	return r.provider.Stream(ctx, req)
}

func (r *PurposeRouter) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return r.provider.HealthCheck(ctx)
}

func (r *PurposeRouter) Name() string { return r.provider.Name() }

func (r *PurposeRouter) SupportsNativeFunctionCalling() bool {
	return r.provider.SupportsNativeFunctionCalling()
}

func (r *PurposeRouter) ListModels(ctx context.Context) ([]Model, error) {
	return r.provider.ListModels(ctx)
}
