// Package tools implements the fixed 7-tool surface a run's ReAct loop is
// allowed to call: read_file, list_files, search_codebase, create_file,
// edit_file, run_tests, run_command.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeframe/codeframe/llm"
)

// Func is the signature every tool implementation satisfies.
type Func func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Metadata describes a registered tool.
type Metadata struct {
	Schema  llm.ToolSchema
	Timeout time.Duration
}

// Result is the outcome of executing a single tool call.
type Result struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// ToMessage converts a Result into the tool-role message the ReAct loop
// appends to the conversation.
func (r Result) ToMessage() llm.Message {
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: r.ToolCallID, Name: r.Name}
	if r.Error != "" {
		msg.Content = fmt.Sprintf("Error: %s", r.Error)
	} else {
		msg.Content = string(r.Result)
	}
	return msg
}

// Registry holds the fixed tool surface available to a run.
type Registry struct {
	mu       sync.RWMutex
	fns      map[string]Func
	metadata map[string]Metadata
	logger   *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		fns:      make(map[string]Func),
		metadata: make(map[string]Metadata),
		logger:   logger,
	}
}

// Register adds a tool. Re-registering a name replaces it — tests routinely
// swap in fakes for individual tools.
func (r *Registry) Register(name string, fn Func, meta Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Timeout == 0 {
		meta.Timeout = 30 * time.Second
	}
	r.fns[name] = fn
	r.metadata[name] = meta
}

// List returns the JSON schema of every registered tool, in the shape the
// Provider needs for native function calling.
func (r *Registry) List() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(r.metadata))
	for _, m := range r.metadata {
		schemas = append(schemas, m.Schema)
	}
	return schemas
}

func (r *Registry) get(name string) (Func, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, r.metadata[name], ok
}

// Executor runs tool calls against a Registry.
type Executor struct {
	registry *Registry
	logger   *zap.Logger
}

// NewExecutor builds an Executor over registry.
func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute runs every call in order, one at a time. A single ReAct
// iteration's tool calls are executed sequentially and in the order the
// model issued them — not concurrently — so that a later call always
// observes the file-system effects of an earlier one in the same
// iteration (e.g. an edit_file following a create_file in the same
// response).
func (e *Executor) Execute(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		results[i] = e.ExecuteOne(ctx, call)
	}
	return results
}

// ExecuteOne runs a single tool call with its configured timeout.
func (e *Executor) ExecuteOne(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Name: call.Name}

	fn, meta, ok := e.registry.get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", call.Name)
		result.Duration = time.Since(start)
		return result
	}

	if len(call.Arguments) > 0 {
		var tmp any
		if err := json.Unmarshal(call.Arguments, &tmp); err != nil {
			result.Error = fmt.Sprintf("invalid arguments: %s", err)
			result.Duration = time.Since(start)
			return result
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(execCtx, call.Arguments)
		select {
		case done <- outcome{res, err}:
		case <-execCtx.Done():
		}
	}()

	select {
	case o := <-done:
		result.Duration = time.Since(start)
		if o.err != nil {
			result.Error = o.err.Error()
			e.logger.Warn("tool execution failed", zap.String("tool", call.Name), zap.Error(o.err))
		} else {
			result.Result = o.res
		}
	case <-execCtx.Done():
		result.Duration = time.Since(start)
		result.Error = fmt.Sprintf("execution timeout after %s", meta.Timeout)
	}
	return result
}
