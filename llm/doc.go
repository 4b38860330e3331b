// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the vendor-agnostic provider interface the agent
execution engine calls through, plus the resilience, routing, and budget
concerns layered on top of it.

# Overview

codeframe never talks to a vendor API directly. Every call into a model
goes through the Provider interface; which vendor sits behind it is a
runtime configuration concern, not a compile-time one. This package
defines that interface and the machinery a caller needs regardless of
vendor: purpose-based model routing, retry with a circuit breaker, and
per-purpose token budget tracking.

# Provider interface

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

Vendor SDKs are deliberately kept out of this module: wiring a specific
provider is the job of whatever embeds codeframe, not the CORE.

# Purpose routing

Every call names a Purpose (Planning, Execution, Correction, Review,
Compaction, DependencyInference). PurposeRouter maps each purpose to a
configured model name and fills ChatRequest.Model before delegating to
the underlying Provider. It also shapes per-purpose QPS with
golang.org/x/time/rate, so one noisy purpose can't starve the others:

	router := llm.NewPurposeRouter(provider, map[llm.Purpose]string{
	    llm.PurposePlanning:  "planning-model",
	    llm.PurposeExecution: "execution-model",
	}, "default-model", map[llm.Purpose]rate.Limit{
	    llm.PurposePlanning: rate.Every(time.Second),
	}, logger)

	resp, err := router.Complete(ctx, &llm.ChatRequest{
	    Purpose:  llm.PurposeExecution,
	    Messages: messages,
	})

# Resilience

ResilientProvider wraps a Provider with exponential-backoff retry and a
three-state circuit breaker, classifying failures per the error code
attached to a returned *types.Error — rate limits and transient service
errors retry, invalid requests fail fast, timeouts get a single retry:

	resilient := llm.NewResilientProvider(provider, &llm.ResilientConfig{
	    RetryPolicy:    llm.DefaultRetryPolicy(),
	    CircuitBreaker: llm.DefaultCircuitBreakerConfig(),
	}, logger)

# Token budget

llm/budget tracks token usage per Purpose in a rolling 24h window and
invokes a callback once per window when a purpose crosses its limit —
a signal for whoever supplies the callback, not an automatic throttle.

# Token counting

llm/tokencount wraps a tiktoken-go encoding per model with an LRU cache
keyed by message content hash, so repeated compaction passes over an
unchanged conversation prefix don't re-tokenize it.
*/
package llm
