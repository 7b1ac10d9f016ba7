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

// Package observability provides the span, session and message types shared
// by the recorder, its persistence backends and the instrumentation adapters.
// This package is designed to be embeddable in other Go applications.
package observability

import (
	"maps"
	"time"
)

// Span represents a single timed unit of work inside a session.
// Spans form a tree through ParentID; all spans of a tree share a session.
type Span struct {
	// ID uniquely identifies this span. It is also called the trace id at the
	// recorder boundary.
	ID string `json:"id"`

	// ParentID is the ID of the enclosing span. Empty for root spans.
	ParentID string `json:"parent_id,omitempty"`

	// SessionID is the session this span belongs to.
	SessionID string `json:"session_id"`

	// Name is a human-readable description of this span.
	Name string `json:"name"`

	// Type categorizes the work represented by the span.
	Type SpanType `json:"type"`

	// Status is pending until the span is ended.
	Status SpanStatus `json:"status"`

	Error       *SpanError     `json:"error,omitempty"`
	Model       string         `json:"model,omitempty"`
	Tokens      *TokenUsage    `json:"tokens,omitempty"`
	CostUSD     *float64       `json:"cost_usd,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	ResourceIDs []string       `json:"resource_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`

	// Depth is 0 for root spans and parent depth + 1 otherwise.
	Depth int `json:"depth"`
}

// SpanType categorizes the type of work represented by a span.
type SpanType string

const (
	SpanTypeHTTP      SpanType = "http"
	SpanTypeLLM       SpanType = "llm"
	SpanTypeTool      SpanType = "tool"
	SpanTypeRetrieval SpanType = "retrieval"
	SpanTypeCustom    SpanType = "custom"
)

// Valid reports whether t is one of the known span types.
func (t SpanType) Valid() bool {
	switch t {
	case SpanTypeHTTP, SpanTypeLLM, SpanTypeTool, SpanTypeRetrieval, SpanTypeCustom:
		return true
	}
	return false
}

// SpanStatus is the lifecycle state of a span.
type SpanStatus string

const (
	// SpanStatusPending is the state of a span that has started but not ended.
	SpanStatusPending SpanStatus = "pending"

	// SpanStatusOK indicates successful completion.
	SpanStatusOK SpanStatus = "ok"

	// SpanStatusError indicates the work failed.
	SpanStatusError SpanStatus = "error"
)

// Terminal reports whether s is a final status.
func (s SpanStatus) Terminal() bool {
	return s == SpanStatusOK || s == SpanStatusError
}

// SpanError describes the failure of an errored span.
type SpanError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// TokenUsage contains LLM token consumption reported for a span.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Session groups spans and carries their aggregated totals.
type Session struct {
	ID     string        `json:"id"`
	UserID string        `json:"user_id,omitempty"`
	Label  string        `json:"label,omitempty"`
	Status SessionStatus `json:"status"`

	// TotalSpans counts every span created under the session, pending or not.
	TotalSpans int `json:"total_spans"`

	// Cost and token totals only include spans that have ended.
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

// Message is a conversation message recorded against a span.
type Message struct {
	SessionID string      `json:"session_id"`
	SpanID    string      `json:"span_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`

	// RedactedContent is set only when redaction changed Content.
	RedactedContent *string        `json:"redacted_content,omitempty"`
	IsRedacted      bool           `json:"is_redacted"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// Valid reports whether r is one of the known message roles.
func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem, MessageRoleTool:
		return true
	}
	return false
}

// Edge links a parent span to a child span.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the span tree of a session as nodes and parent edges.
type Graph struct {
	Nodes []*Span `json:"nodes"`
	Edges []Edge  `json:"edges"`
}

// SessionDetails is a session together with its ordered messages.
type SessionDetails struct {
	Session
	Messages []*Message `json:"messages"`
}

// SpanMessages returns the messages recorded against spanID. An empty spanID
// selects the session-scoped messages.
func (d *SessionDetails) SpanMessages(spanID string) []*Message {
	out := make([]*Message, 0)
	for _, m := range d.Messages {
		if m.SpanID == spanID {
			out = append(out, m)
		}
	}
	return out
}

// TimeRange bounds a query by session start time. Nil ends are open.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// ListFilter selects and paginates sessions for ListSessions.
type ListFilter struct {
	UserID        string     `json:"user_id,omitempty"`
	LabelContains string     `json:"label_contains,omitempty"`
	TimeRange     *TimeRange `json:"time_range,omitempty"`

	// Page is 1-based. Zero is treated as 1.
	Page int `json:"page,omitempty"`

	// Limit is the page size. Zero selects DefaultPageLimit.
	Limit int `json:"limit,omitempty"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 500
)

// Normalize fills in default paging values.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// SessionPage is one page of session summaries, newest first.
type SessionPage struct {
	Sessions []*Session `json:"sessions"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	Limit    int        `json:"limit"`
}

// SessionsSummary aggregates sessions started within a time range.
type SessionsSummary struct {
	TotalSessions  int     `json:"total_sessions"`
	ActiveSessions int     `json:"active_sessions"`
	TotalCostUSD   float64 `json:"total_cost_usd"`

	// AvgDurationMS is averaged over completed sessions only.
	AvgDurationMS float64 `json:"avg_duration_ms"`

	// ErrorRate is the fraction of sessions with status error.
	ErrorRate float64 `json:"error_rate"`
}

// Clone returns a deep copy of the span.
func (s *Span) Clone() *Span {
	if s == nil {
		return nil
	}
	c := *s
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.Tokens != nil {
		t := *s.Tokens
		c.Tokens = &t
	}
	if s.CostUSD != nil {
		v := *s.CostUSD
		c.CostUSD = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		c.EndedAt = &v
	}
	if s.DurationMS != nil {
		v := *s.DurationMS
		c.DurationMS = &v
	}
	if s.ResourceIDs != nil {
		c.ResourceIDs = append([]string(nil), s.ResourceIDs...)
	}
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

// Duration returns the span's execution time, or 0 while it is pending.
func (s *Span) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		v := *s.EndedAt
		c.EndedAt = &v
	}
	return &c
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.RedactedContent != nil {
		v := *m.RedactedContent
		c.RedactedContent = &v
	}
	c.Metadata = maps.Clone(m.Metadata)
	return &c
}
