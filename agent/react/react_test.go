package react

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeframe/codeframe/agent/tools"
	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/llm"
)

// scriptedProvider returns queued responses in order, ignoring the request
// content.
type scriptedProvider struct {
	responses []*llm.ChatResponse
}

func (p *scriptedProvider) Completion(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	if len(p.responses) == 0 {
		return nil, assert.AnError
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Stream(_ context.Context, _ *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) HealthCheck(_ context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) Name() string                         { return "scripted" }
func (p *scriptedProvider) SupportsNativeFunctionCalling() bool   { return true }
func (p *scriptedProvider) ListModels(_ context.Context) ([]llm.Model, error) {
	return nil, nil
}

func newTestRegistry() *tools.Registry {
	reg := tools.NewRegistry(zap.NewNop())
	reg.Register("echo", func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
		return raw, nil
	}, tools.Metadata{Schema: llm.ToolSchema{Name: "echo"}})
	return reg
}

func newTestTask() store.Task {
	return store.Task{ID: "t1", TaskNumber: 1, Title: "do the thing", Complexity: 2}
}

func TestAgentRun_CompletesOnTextResponse(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.ChatResponse{
			{Choices: []llm.ChatChoice{{
				FinishReason: "tool_calls",
				Message: llm.Message{
					Role: llm.RoleAssistant,
					ToolCalls: []llm.ToolCall{{
						ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`),
					}},
				},
			}}},
			{Choices: []llm.ChatChoice{{
				FinishReason: "stop",
				Message:      llm.Message{Role: llm.RoleAssistant, Content: "done"},
			}}},
		},
	}

	a := New(provider, newTestRegistry(), nil, nil, nil, nil, DefaultConfig(), zap.NewNop())
	outcome, err := a.Run(context.Background(), "ws1", RunContext{Task: newTestTask()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, "done", outcome.Summary)
}

func TestAgentRun_FailsOnProviderError(t *testing.T) {
	provider := &scriptedProvider{} // no queued responses
	a := New(provider, newTestRegistry(), nil, nil, nil, nil, DefaultConfig(), zap.NewNop())
	outcome, err := a.Run(context.Background(), "ws1", RunContext{Task: newTestTask()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Kind)
}

func TestMaxIterationsClampsToRange(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 22, cfg.MaxIterations(0))
	assert.Equal(t, 15, cfg.MaxIterations(1))
	assert.Equal(t, 22, cfg.MaxIterations(2))
	assert.Equal(t, 45, cfg.MaxIterations(20))
}

func TestLoopDetectorSignatureStableAcrossKeyOrder(t *testing.T) {
	a := signature([]llm.ToolCall{{Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go","start_line":1}`)}})
	b := signature([]llm.ToolCall{{Name: "read_file", Arguments: json.RawMessage(`{"start_line":1,"path":"a.go"}`)}})
	assert.Equal(t, a, b)

	c := signature([]llm.ToolCall{{Name: "read_file", Arguments: json.RawMessage(`{"path":"b.go","start_line":1}`)}})
	assert.NotEqual(t, a, c)
}
