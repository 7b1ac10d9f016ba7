// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/tracelight/pkg/llm"
)

// MockProvider implements llm.Provider for testing.
// It returns pre-configured responses in order and records all requests.
type MockProvider struct {
	mu        sync.Mutex
	responses []Response
	next      int
	requests  []llm.CompletionRequest
	lastUsage *llm.TokenUsage

	// OmitUsage leaves usage out of responses and exposes it only through
	// GetLastUsage, like providers that report usage after the fact.
	OmitUsage bool
}

// Response defines one scripted reply.
type Response struct {
	Content      string
	ToolCalls    []llm.ToolCall
	FinishReason llm.FinishReason
	Usage        llm.TokenUsage

	// Error is returned instead of a response. For Stream it is delivered
	// as a chunk after any Content.
	Error error

	// Model defaults to "mock-model".
	Model string
}

// NewMockProvider creates a provider that replays responses in order.
func NewMockProvider(responses ...Response) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: true,
		Tools:     true,
		Models: []llm.ModelInfo{
			{ID: "mock-model", Name: "Mock Model", MaxTokens: 100000, SupportsTools: true},
		},
	}
}

// Requests returns the requests received so far.
func (m *MockProvider) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.requests...)
}

// GetLastUsage implements llm.UsageTrackable.
func (m *MockProvider) GetLastUsage() *llm.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsage
}

func (m *MockProvider) take(req llm.CompletionRequest) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.next >= len(m.responses) {
		return Response{}, fmt.Errorf("mock provider: no more responses configured (requested %d, configured %d)", m.next+1, len(m.responses))
	}
	resp := m.responses[m.next]
	m.next++

	if resp.Model == "" {
		resp.Model = "mock-model"
	}
	if resp.FinishReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = llm.FinishReasonToolCalls
		} else {
			resp.FinishReason = llm.FinishReasonStop
		}
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
	usage := resp.Usage
	m.lastUsage = &usage
	if m.OmitUsage {
		resp.Usage = llm.TokenUsage{}
	}
	return resp, nil
}

// Complete returns the next scripted response.
func (m *MockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := m.take(req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	return &llm.CompletionResponse{
		Content:      resp.Content,
		ToolCalls:    resp.ToolCalls,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Model:        resp.Model,
		RequestID:    uuid.NewString(),
		Created:      time.Now(),
	}, nil
}

// Stream delivers the next scripted response word by word.
func (m *MockProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, err := m.take(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan llm.StreamChunk)
	requestID := uuid.NewString()

	go func() {
		defer close(chunks)

		send := func(c llm.StreamChunk) bool {
			c.RequestID = requestID
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if word == "" {
				continue
			}
			if !send(llm.StreamChunk{Delta: llm.StreamDelta{Content: word}}) {
				return
			}
		}
		for i, tc := range resp.ToolCalls {
			delta := &llm.ToolCallDelta{Index: i, ID: tc.ID, Name: tc.Name, ArgumentsDelta: tc.Arguments}
			if !send(llm.StreamChunk{Delta: llm.StreamDelta{ToolCallDelta: delta}}) {
				return
			}
		}

		if resp.Error != nil {
			send(llm.StreamChunk{Error: resp.Error, FinishReason: llm.FinishReasonError})
			return
		}
		usage := resp.Usage
		send(llm.StreamChunk{FinishReason: resp.FinishReason, Usage: &usage})
	}()

	return chunks, nil
}
