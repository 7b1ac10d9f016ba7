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

package observability

import (
	"context"
)

// Recorder is the contract consumed by instrumentation adapters.
// It is implemented by the local recording service and by the remote
// transport client.
type Recorder interface {
	// StartSpan opens a pending span. An empty SessionID creates a new session.
	StartSpan(ctx context.Context, req StartSpanRequest) (SpanRef, error)

	// EndSpan terminates a pending span with its outcome and metrics.
	EndSpan(ctx context.Context, traceID string, req EndSpanRequest) error

	// RecordMessage stores a (redacted) message against a span and its session.
	RecordMessage(ctx context.Context, req RecordMessageRequest) error

	// GetSessionGraph returns all spans of a session with their parent edges.
	GetSessionGraph(ctx context.Context, sessionID string) (*Graph, error)

	// GetSessionDetails returns the session with its ordered messages.
	GetSessionDetails(ctx context.Context, sessionID string) (*SessionDetails, error)

	// EndSession marks the session completed unless it already errored.
	EndSession(ctx context.Context, sessionID string) error

	// ListSessions returns sessions sorted by start time, newest first.
	ListSessions(ctx context.Context, filter ListFilter) (*SessionPage, error)

	// GetSessionsSummary aggregates sessions started within the range.
	GetSessionsSummary(ctx context.Context, tr *TimeRange) (*SessionsSummary, error)
}

// StartSpanRequest describes a span to open.
type StartSpanRequest struct {
	SessionID string         `json:"session_id,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	Name      string         `json:"name"`
	Type      SpanType       `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// UserID and Label are applied only when the call creates the session.
	UserID string `json:"user_id,omitempty"`
	Label  string `json:"label,omitempty"`
}

// SpanRef identifies an opened span and its session.
type SpanRef struct {
	TraceID   string `json:"trace_id"`
	SessionID string `json:"session_id"`
}

// IsZero reports whether the reference is empty.
func (r SpanRef) IsZero() bool {
	return r.TraceID == "" && r.SessionID == ""
}

// EndSpanRequest carries the outcome of a span.
type EndSpanRequest struct {
	Status      SpanStatus     `json:"status"`
	Error       *SpanError     `json:"error,omitempty"`
	Model       string         `json:"model,omitempty"`
	Tokens      *TokenUsage    `json:"tokens,omitempty"`
	CostUSD     *float64       `json:"cost_usd,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	ResourceIDs []string       `json:"resource_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RecordMessageRequest describes a message to record.
type RecordMessageRequest struct {
	SessionID string         `json:"session_id"`
	TraceID   string         `json:"trace_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionOptions describes a session created explicitly.
type SessionOptions struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Label  string `json:"label,omitempty"`
}

type spanRefKey struct{}

// ContextWithSpan returns a context carrying ref as the enclosing span.
func ContextWithSpan(ctx context.Context, ref SpanRef) context.Context {
	return context.WithValue(ctx, spanRefKey{}, ref)
}

// SpanFromContext returns the enclosing span reference, if any.
func SpanFromContext(ctx context.Context) (SpanRef, bool) {
	if ctx == nil {
		return SpanRef{}, false
	}
	ref, ok := ctx.Value(spanRefKey{}).(SpanRef)
	return ref, ok && !ref.IsZero()
}

// Float64 returns a pointer to v. It is a convenience for CostUSD fields.
func Float64(v float64) *float64 {
	return &v
}
