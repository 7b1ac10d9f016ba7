// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llmtrace wraps LLM providers so each completion is recorded as an
// llm span with its token usage and cost.
package llmtrace

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/internal/metrics"
	"github.com/tombee/tracelight/pkg/llm"
	"github.com/tombee/tracelight/pkg/llm/pricing"
	"github.com/tombee/tracelight/pkg/observability"
)

// CostFunc computes the cost of a call. ok is false when the cost is
// unknown.
type CostFunc func(model string, usage llm.TokenUsage) (cost float64, ok bool)

// Options configures a TracedProvider.
type Options struct {
	// Recorder receives the spans. Required.
	Recorder observability.Recorder

	// Pricing prices calls when CostFunc is nil or does not know the model.
	Pricing *pricing.Manager

	CostFunc CostFunc

	// RecordMessages records the outgoing user message and the assistant
	// reply against the span.
	RecordMessages bool

	// Timeout bounds each tracing call. Zero means no extra bound.
	Timeout time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// TracedProvider wraps an LLM provider to add a span around every
// Complete and Stream call. Tracing failures are logged and never change
// the wrapped call's result.
type TracedProvider struct {
	provider llm.Provider
	opts     Options
	logger   *slog.Logger
}

var _ llm.Provider = (*TracedProvider)(nil)

// WrapProvider wraps provider with span recording. A nil Recorder returns
// provider unchanged.
func WrapProvider(provider llm.Provider, opts Options) llm.Provider {
	if opts.Recorder == nil {
		return provider
	}
	return &TracedProvider{
		provider: provider,
		opts:     opts,
		logger:   log.WithComponent(log.OrDiscard(opts.Logger), "llmtrace").With("provider", provider.Name()),
	}
}

// Unwrap returns the wrapped provider.
func (t *TracedProvider) Unwrap() llm.Provider {
	return t.provider
}

// Name returns the underlying provider's name.
func (t *TracedProvider) Name() string {
	return t.provider.Name()
}

// Capabilities returns the underlying provider's capabilities.
func (t *TracedProvider) Capabilities() llm.Capabilities {
	return t.provider.Capabilities()
}

// Complete records the completion as an llm span.
func (t *TracedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (resp *llm.CompletionResponse, err error) {
	call, ctx := t.begin(ctx, req)

	defer func() {
		if p := recover(); p != nil {
			call.fail(ctx, fmt.Sprint(p), string(debug.Stack()))
			panic(p)
		}
	}()

	resp, err = t.provider.Complete(ctx, req)
	if err != nil {
		call.fail(ctx, err.Error(), "")
		return nil, err
	}

	usage := t.usage(resp.Usage)
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	call.finish(ctx, result{
		model:        model,
		usage:        usage,
		finishReason: resp.FinishReason,
		requestID:    resp.RequestID,
		toolCalls:    len(resp.ToolCalls),
		content:      resp.Content,
	})
	return resp, nil
}

// Stream records the streaming completion as an llm span that ends with
// the final chunk.
func (t *TracedProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	call, ctx := t.begin(ctx, req)

	chunks, err := t.provider.Stream(ctx, req)
	if err != nil {
		call.fail(ctx, err.Error(), "")
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)

		var (
			content      []byte
			toolCalls    int
			requestID    string
			finishReason llm.FinishReason
			usage        llm.TokenUsage
		)
		ended := false

		for chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				if !ended {
					call.fail(ctx, "stream abandoned: "+ctx.Err().Error(), "")
					ended = true
				}
				// Drain so the provider's goroutine can exit.
				for range chunks {
				}
				return
			}
			if ended {
				continue
			}

			content = append(content, chunk.Delta.Content...)
			if chunk.Delta.ToolCallDelta != nil && chunk.Delta.ToolCallDelta.ID != "" {
				toolCalls++
			}
			if chunk.RequestID != "" {
				requestID = chunk.RequestID
			}
			if chunk.Error != nil {
				call.fail(ctx, chunk.Error.Error(), "")
				ended = true
				continue
			}
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		}

		if !ended {
			call.finish(ctx, result{
				model:        req.Model,
				usage:        t.usage(usage),
				finishReason: finishReason,
				requestID:    requestID,
				toolCalls:    toolCalls,
				content:      string(content),
			})
		}
	}()

	return out, nil
}

// usage falls back to the provider's last reported usage when the response
// carried none.
func (t *TracedProvider) usage(u llm.TokenUsage) llm.TokenUsage {
	if u.InputTokens != 0 || u.OutputTokens != 0 || u.TotalTokens != 0 {
		return u
	}
	if trackable, ok := t.provider.(llm.UsageTrackable); ok {
		if last := trackable.GetLastUsage(); last != nil {
			return *last
		}
	}
	return u
}

// cost prices a call, preferring the caller's CostFunc.
func (t *TracedProvider) cost(model string, u llm.TokenUsage) *float64 {
	if t.opts.CostFunc != nil {
		if c, ok := t.opts.CostFunc(model, u); ok {
			return &c
		}
	}
	if t.opts.Pricing == nil {
		return nil
	}
	mp, ok := t.opts.Pricing.Lookup(model)
	if !ok {
		return nil
	}
	info := pricing.CalculateCost(&mp, pricing.TokenUsage{
		InputTokens:         int64(u.InputTokens),
		OutputTokens:        int64(u.OutputTokens),
		CacheCreationTokens: int64(u.CacheCreationTokens),
		CacheReadTokens:     int64(u.CacheReadTokens),
	})
	return &info.Amount
}
