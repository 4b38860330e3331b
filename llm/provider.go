// Package llm provides the vendor-agnostic LLM provider abstraction that the
// rest of codeframe talks to. No concrete vendor SDK is imported here or
// anywhere downstream of this package — callers depend only on Provider.
package llm

import (
	"context"
	"time"

	"github.com/codeframe/codeframe/types"
)

// Re-exported wire types so callers don't need to import both llm and types.
type (
	Message      = types.Message
	Role         = types.Role
	ToolCall     = types.ToolCall
	ToolSchema   = types.ToolSchema
	ToolResult   = types.ToolResult
	TokenUsage   = types.TokenUsage
	Error        = types.Error
	ErrorCode    = types.ErrorCode
	ImageContent = types.ImageContent
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

const (
	ErrInvalidRequest      = types.ErrInvalidRequest
	ErrAuthentication      = types.ErrAuthentication
	ErrRateLimited         = types.ErrRateLimited
	ErrContextTooLong      = types.ErrContextTooLong
	ErrUpstreamError       = types.ErrUpstreamError
	ErrTimeout             = types.ErrTimeout
	ErrServiceUnavailable  = types.ErrServiceUnavailable
	ErrProviderUnavailable = types.ErrProviderUnavailable
)

// NewError re-exports types.NewError so callers can build an *Error
// without importing types.
var NewError = types.NewError

// Purpose names the role a completion request plays in the agent pipeline.
// The purpose, not the caller, determines which model answers the request —
// see purposerouter.go.
type Purpose string

const (
	PurposePlanning            Purpose = "planning"
	PurposeExecution           Purpose = "execution"
	PurposeCorrection          Purpose = "correction"
	PurposeReview              Purpose = "review"
	PurposeCompaction          Purpose = "compaction"
	PurposeDependencyInference Purpose = "dependency_inference"
)

// Provider is the contract every model backend must satisfy. codeframe never
// imports a vendor SDK directly; a Provider implementation lives in the
// calling application and is injected at the boundary.
type Provider interface {
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
	Name() string
	SupportsNativeFunctionCalling() bool
	ListModels(ctx context.Context) ([]Model, error)
}

// HealthStatus reports the result of a provider health probe.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	TraceID     string            `json:"trace_id"`
	Purpose     Purpose           `json:"purpose"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Tools       []ToolSchema      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChatResponse is the result of a completion request.
type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage"`
	CreatedAt time.Time    `json:"created_at"`
}

// ChatChoice is a single candidate completion.
type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

// ChatUsage reports the token cost of a completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one increment of a streaming completion.
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Model        string     `json:"model,omitempty"`
	Index        int        `json:"index,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	Err          *Error     `json:"error,omitempty"`
}

// Model describes a model offered by a provider.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// IsRetryable reports whether err, if it came from a Provider, should be retried.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
