package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls the backoff schedule ResilientProvider applies to a
// retryable failure.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy backs off 1s, 2s, 4s, 8s, 16s: at most 5 retries after
// the first attempt.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     16 * time.Second,
		Multiplier:     2.0,
	}
}

// CircuitState is the state of a provider's circuit breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreakerConfig tunes when a provider is temporarily taken out of
// rotation after repeated failures.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = errors.New("llm: circuit breaker is open")

// simpleCircuitBreaker is a minimal closed/open/half-open breaker; state
// transitions are guarded by mu so concurrent calls never race each other
// into an inconsistent state.
type simpleCircuitBreaker struct {
	config          *CircuitBreakerConfig
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	lastFailureTime atomic.Int64
	mu              sync.Mutex
	logger          *zap.Logger
}

func newSimpleCircuitBreaker(config *CircuitBreakerConfig, logger *zap.Logger) *simpleCircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &simpleCircuitBreaker{config: config, logger: logger}
}

func (cb *simpleCircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

func (cb *simpleCircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	state := CircuitState(cb.state.Load())
	if state == CircuitOpen {
		if time.Now().UnixNano()-cb.lastFailureTime.Load() > cb.config.Timeout.Nanoseconds() {
			cb.state.Store(int32(CircuitHalfOpen))
			cb.successes.Store(0)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	cb.mu.Unlock()

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *simpleCircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	failures := cb.failures.Add(1)
	cb.lastFailureTime.Store(time.Now().UnixNano())
	if failures >= int32(cb.config.FailureThreshold) {
		cb.state.Store(int32(CircuitOpen))
		cb.logger.Warn("circuit breaker opened", zap.Int32("failures", failures))
	}
}

func (cb *simpleCircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		successes := cb.successes.Add(1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.state.Store(int32(CircuitClosed))
			cb.failures.Store(0)
			cb.logger.Info("circuit breaker closed")
		}
	} else {
		cb.failures.Store(0)
	}
}

// ResilientProvider wraps a Provider with the retry/backoff and circuit
// breaker behavior the spec's failure-mode table requires: RateLimited and
// ServiceUnavailable errors are retried with exponential backoff up to
// MaxRetries, InvalidRequest is fatal on the first attempt, and Timeout gets
// two attempts before giving up.
type ResilientProvider struct {
	provider       Provider
	retryPolicy    *RetryPolicy
	circuitBreaker *simpleCircuitBreaker
	logger         *zap.Logger
}

// ResilientConfig configures a ResilientProvider.
type ResilientConfig struct {
	RetryPolicy    *RetryPolicy
	CircuitBreaker *CircuitBreakerConfig
}

// NewResilientProvider wraps provider with retry and circuit-breaking
// behavior. A nil config applies DefaultRetryPolicy/DefaultCircuitBreakerConfig.
func NewResilientProvider(provider Provider, config *ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if config == nil {
		config = &ResilientConfig{
			RetryPolicy:    DefaultRetryPolicy(),
			CircuitBreaker: DefaultCircuitBreakerConfig(),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientProvider{
		provider:       provider,
		retryPolicy:    config.RetryPolicy,
		circuitBreaker: newSimpleCircuitBreaker(config.CircuitBreaker, logger),
		logger:         logger,
	}
}

func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	var lastErr error

	err := rp.circuitBreaker.Call(ctx, func() error {
		backoff := rp.retryPolicy.InitialBackoff
		maxAttempts := rp.retryPolicy.MaxRetries

		for attempt := 0; attempt <= maxAttempts; attempt++ {
			var err error
			resp, err = rp.provider.Completion(ctx, req)
			if err == nil {
				return nil
			}
			lastErr = err

			if !IsRetryable(err) {
				return err
			}
			if e, ok := err.(*Error); ok && e.Code == ErrTimeout && attempt >= 1 {
				return err // timeout gets exactly one retry beyond the first attempt
			}
			if attempt >= maxAttempts {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * rp.retryPolicy.Multiplier)
			if backoff > rp.retryPolicy.MaxBackoff {
				backoff = rp.retryPolicy.MaxBackoff
			}
		}
		return lastErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (rp *ResilientProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if rp.circuitBreaker.State() == CircuitOpen {
		return nil, ErrCircuitOpen
	}
	return rp.provider.Stream(ctx, req)
}

func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

func (rp *ResilientProvider) Name() string { return rp.provider.Name() }

func (rp *ResilientProvider) SupportsNativeFunctionCalling() bool {
	return rp.provider.SupportsNativeFunctionCalling()
}

func (rp *ResilientProvider) ListModels(ctx context.Context) ([]Model, error) {
	return rp.provider.ListModels(ctx)
}
