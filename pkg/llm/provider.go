// Package llm defines the provider-agnostic completion contract that the
// tracing decorator wraps. Concrete provider clients live with the
// applications that embed tracelight.
package llm

import (
	"context"
	"time"
)

// Provider is implemented by every LLM client that can be traced.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "anthropic", "openai").
	Name() string

	// Capabilities returns the provider's supported features and model information.
	Capabilities() Capabilities

	// Complete sends a synchronous completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a streaming completion request and returns a channel of chunks.
	// The caller must consume all chunks from the channel until it closes.
	// Errors during streaming are sent as StreamChunk with Error field set.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Streaming bool
	Tools     bool
	Models    []ModelInfo
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	// ID is the provider-specific model identifier (e.g., "claude-sonnet-4-5").
	ID string

	// Name is the human-readable model name.
	Name string

	// MaxTokens is the context window size in tokens.
	MaxTokens int

	SupportsTools bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Messages is the conversation history including the current prompt.
	Messages []Message

	// Model specifies which model to use.
	Model string

	// Temperature controls randomness. Nil selects the provider default.
	Temperature *float64

	// MaxTokens limits the response length. Nil selects the provider default.
	MaxTokens *int

	Tools         []Tool
	StopSequences []string

	// Metadata is copied onto the request's span.
	Metadata map[string]string
}

// Message is a single message in a conversation.
type Message struct {
	Role    MessageRole
	Content string

	// ToolCalls contains tool invocations made by the assistant.
	ToolCalls []ToolCall

	// ToolCallID links a tool result to its call.
	ToolCallID string

	// Name identifies the tool that produced a tool result.
	Name string
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall represents a function invocation by the LLM.
type ToolCall struct {
	ID   string
	Name string

	// Arguments contains the JSON-encoded function parameters.
	Arguments string
}

// Tool defines a function the LLM can invoke.
type Tool struct {
	Name        string
	Description string

	// InputSchema is a JSON Schema describing the function parameters.
	InputSchema map[string]any
}

// CompletionResponse contains the full response from a non-streaming completion.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        TokenUsage

	// Model is the model that actually handled the request.
	Model string

	// RequestID is the provider's identifier for the request.
	RequestID string

	Created time.Time
}

// StreamChunk represents a single piece of a streaming response.
type StreamChunk struct {
	Delta StreamDelta

	// FinishReason is set on the final chunk.
	FinishReason FinishReason

	// Usage is set on the final chunk with token consumption stats.
	Usage *TokenUsage

	// Error ends the stream when set.
	Error error

	RequestID string
}

// StreamDelta contains the incremental updates in a stream chunk.
type StreamDelta struct {
	Content string

	// ToolCallDelta contains partial tool call information.
	ToolCallDelta *ToolCallDelta
}

// ToolCallDelta represents partial tool call information in a stream.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// FinishReason indicates why completion generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
)

// TokenUsage tracks token consumption for cost calculation.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// CacheCreationTokens tracks tokens written to cache (billed at full rate).
	CacheCreationTokens int

	// CacheReadTokens tracks tokens served from cache (reduced rate).
	CacheReadTokens int
}

// UsageTrackable is implemented by providers that report usage after the
// fact instead of in the response.
type UsageTrackable interface {
	// GetLastUsage returns the token usage from the most recent request,
	// or nil when none is known.
	GetLastUsage() *TokenUsage
}

// LastUserMessage returns the content of the final user message in msgs.
func LastUserMessage(msgs []Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == MessageRoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}
