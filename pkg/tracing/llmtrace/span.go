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

package llmtrace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/pkg/llm"
	"github.com/tombee/tracelight/pkg/observability"
)

// spanCall is the span of one provider call. An untraced call (the span
// could not be started) ignores fail and finish.
type spanCall struct {
	t      *TracedProvider
	ref    observability.SpanRef
	model  string
	start  time.Time
	logger *slog.Logger
	once   sync.Once
}

type result struct {
	model        string
	usage        llm.TokenUsage
	finishReason llm.FinishReason
	requestID    string
	toolCalls    int
	content      string
}

// begin opens the span and returns the context the provider should see.
func (t *TracedProvider) begin(ctx context.Context, req llm.CompletionRequest) (*spanCall, context.Context) {
	model := req.Model
	if model == "" {
		model = t.provider.Name()
	}
	call := &spanCall{t: t, model: model, start: time.Now(), logger: t.logger}

	sreq := observability.StartSpanRequest{
		Name:     "llm " + model,
		Type:     observability.SpanTypeLLM,
		Metadata: requestMetadata(t.provider.Name(), req),
	}
	if parent, ok := observability.SpanFromContext(ctx); ok {
		sreq.ParentID = parent.TraceID
		sreq.SessionID = parent.SessionID
	}

	tctx, cancel := t.callContext(ctx)
	ref, err := t.opts.Recorder.StartSpan(tctx, sreq)
	cancel()
	if err != nil || ref.IsZero() {
		t.logger.Warn("failed to start llm span", "model", model, log.Error(err))
		return call, ctx
	}

	call.ref = ref
	call.logger = log.WithSession(t.logger, ref.SessionID, ref.TraceID)
	ctx = observability.ContextWithSpan(ctx, ref)

	if t.opts.RecordMessages {
		if content, ok := llm.LastUserMessage(req.Messages); ok {
			call.record(ctx, observability.MessageRoleUser, content)
		}
	}
	return call, ctx
}

func requestMetadata(provider string, req llm.CompletionRequest) map[string]any {
	md := map[string]any{
		"provider":      provider,
		"message_count": len(req.Messages),
	}
	if req.Temperature != nil {
		md["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		md["max_tokens"] = *req.MaxTokens
	}
	if len(req.Tools) > 0 {
		md["tool_count"] = len(req.Tools)
	}
	for k, v := range req.Metadata {
		md["llm.metadata."+k] = v
	}
	return md
}

func (c *spanCall) traced() bool {
	return !c.ref.IsZero()
}

func (c *spanCall) latency() time.Duration {
	return time.Since(c.start)
}

// fail ends the span with status error.
func (c *spanCall) fail(ctx context.Context, message, stack string) {
	latency := c.latency()
	c.t.opts.Metrics.RecordLLMRequest(c.t.provider.Name(), c.model, string(observability.SpanStatusError), 0, 0, 0, latency)
	c.end(ctx, observability.EndSpanRequest{
		Status: observability.SpanStatusError,
		Error:  &observability.SpanError{Message: message, Stack: stack},
		Model:  c.model,
		Metadata: map[string]any{
			"latency_ms": latency.Milliseconds(),
		},
	})
}

// finish ends the span with status ok and records the reply.
func (c *spanCall) finish(ctx context.Context, r result) {
	latency := c.latency()
	tokens := &observability.TokenUsage{
		Input:  int64(r.usage.InputTokens),
		Output: int64(r.usage.OutputTokens),
	}
	cost := c.t.cost(r.model, r.usage)

	var costUSD float64
	if cost != nil {
		costUSD = *cost
	}
	c.t.opts.Metrics.RecordLLMRequest(c.t.provider.Name(), r.model, string(observability.SpanStatusOK),
		tokens.Input, tokens.Output, costUSD, latency)

	md := map[string]any{
		"latency_ms":       latency.Milliseconds(),
		"total_tokens":     r.usage.TotalTokens,
		"tool_calls_count": r.toolCalls,
		"content_length":   len(r.content),
	}
	if r.finishReason != "" {
		md["finish_reason"] = string(r.finishReason)
	}
	if r.requestID != "" {
		md["request_id"] = r.requestID
	}
	if r.usage.CacheCreationTokens > 0 {
		md["cache_creation_tokens"] = r.usage.CacheCreationTokens
	}
	if r.usage.CacheReadTokens > 0 {
		md["cache_read_tokens"] = r.usage.CacheReadTokens
	}

	if c.t.opts.RecordMessages && r.content != "" {
		c.record(ctx, observability.MessageRoleAssistant, r.content)
	}
	c.end(ctx, observability.EndSpanRequest{
		Status:   observability.SpanStatusOK,
		Model:    r.model,
		Tokens:   tokens,
		CostUSD:  cost,
		Metadata: md,
	})
}

func (c *spanCall) end(ctx context.Context, req observability.EndSpanRequest) {
	if !c.traced() {
		return
	}
	c.once.Do(func() {
		tctx, cancel := c.t.callContext(context.WithoutCancel(ctx))
		defer cancel()
		if err := c.t.opts.Recorder.EndSpan(tctx, c.ref.TraceID, req); err != nil {
			c.logger.Warn("failed to end llm span", log.Error(err))
		}
	})
}

func (c *spanCall) record(ctx context.Context, role observability.MessageRole, content string) {
	if !c.traced() {
		return
	}
	tctx, cancel := c.t.callContext(context.WithoutCancel(ctx))
	defer cancel()
	err := c.t.opts.Recorder.RecordMessage(tctx, observability.RecordMessageRequest{
		SessionID: c.ref.SessionID,
		TraceID:   c.ref.TraceID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		c.logger.Warn("failed to record llm message", "role", string(role), log.Error(err))
	}
}

func (t *TracedProvider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.opts.Timeout > 0 {
		return context.WithTimeout(ctx, t.opts.Timeout)
	}
	return context.WithCancel(ctx)
}
