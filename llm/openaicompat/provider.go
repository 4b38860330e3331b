// Package openaicompat is a minimal llm.Provider implementation against any
// OpenAI-compatible chat-completions endpoint (OpenAI itself, and the many
// local/self-hosted servers that mirror its wire format). It is a thin
// net/http client, not a vendor SDK — the CORE never imports a provider
// SDK directly, so this package is the CLI's own boundary adapter: one
// HTTP client body serves every OpenAI-shaped backend.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeframe/codeframe/llm"
)

// Config configures a Provider.
type Config struct {
	Name         string // identifies this provider instance, e.g. "openai", "local"
	BaseURL      string // e.g. "https://api.openai.com"
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
}

// Provider talks to BaseURL + "/v1/chat/completions" using the standard
// OpenAI request/response envelope.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New builds a Provider. A zero Timeout defaults to 60s.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      wireMessage `json:"message"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
	Error   *wireError   `json:"error,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func toWireMessages(msgs []llm.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out[i] = wm
	}
	return out
}

func fromWireMessage(wm wireMessage) llm.Message {
	m := llm.Message{Role: llm.Role(wm.Role), Content: wm.Content, Name: wm.Name, ToolCallID: wm.ToolCallID}
	for _, tc := range wm.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)})
	}
	return m
}

// Completion issues one non-streaming chat-completions call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	body := wireRequest{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "build request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewError(llm.ErrUpstreamError, "read response body").WithCause(err).WithProvider(p.cfg.Name)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatusError(resp.StatusCode, respBody)
	}

	var wr wireResponse
	if err := json.Unmarshal(respBody, &wr); err != nil {
		return nil, llm.NewError(llm.ErrUpstreamError, "decode response").WithCause(err).WithProvider(p.cfg.Name)
	}

	out := &llm.ChatResponse{
		ID: wr.ID, Provider: p.cfg.Name, Model: wr.Model,
		Usage: llm.ChatUsage{
			PromptTokens: wr.Usage.PromptTokens, CompletionTokens: wr.Usage.CompletionTokens, TotalTokens: wr.Usage.TotalTokens,
		},
		CreatedAt: time.Now().UTC(),
	}
	for _, c := range wr.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index: c.Index, FinishReason: c.FinishReason, Message: fromWireMessage(c.Message),
		})
	}
	return out, nil
}

// Stream is not implemented: the CLI drives the ReAct loop one completion
// at a time, with no need for token-level streaming from the provider, so
// only Completion needs a real implementation here.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, llm.NewError(llm.ErrInvalidRequest, "openaicompat: streaming not supported").WithProvider(p.cfg.Name)
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false}, err
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	defer resp.Body.Close()
	return &llm.HealthStatus{Healthy: resp.StatusCode == http.StatusOK, Latency: time.Since(start)}, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.classifyTransportError(err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Data []llm.Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, llm.NewError(llm.ErrUpstreamError, "decode models list").WithCause(err).WithProvider(p.cfg.Name)
	}
	return parsed.Data, nil
}

func (p *Provider) classifyTransportError(err error) error {
	return llm.NewError(llm.ErrServiceUnavailable, "request failed").
		WithCause(err).WithProvider(p.cfg.Name).WithRetryable(true)
}

func (p *Provider) classifyStatusError(status int, body []byte) error {
	var parsed struct {
		Error wireError `json:"error"`
	}
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("http status %d", status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return llm.NewError(llm.ErrRateLimited, msg).WithHTTPStatus(status).WithProvider(p.cfg.Name).WithRetryable(true)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return llm.NewError(llm.ErrAuthentication, msg).WithHTTPStatus(status).WithProvider(p.cfg.Name)
	case status == http.StatusRequestTimeout:
		return llm.NewError(llm.ErrTimeout, msg).WithHTTPStatus(status).WithProvider(p.cfg.Name).WithRetryable(true)
	case status >= 500:
		return llm.NewError(llm.ErrServiceUnavailable, msg).WithHTTPStatus(status).WithProvider(p.cfg.Name).WithRetryable(true)
	default:
		return llm.NewError(llm.ErrInvalidRequest, msg).WithHTTPStatus(status).WithProvider(p.cfg.Name)
	}
}
