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

// Package store owns span, session and message records.
//
// All mutations are serialized by a single writer lock and are written to the
// persistence backend before they are committed to memory. Queries take a
// read lock and return deep copies.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/internal/metrics"
	tlerrors "github.com/tombee/tracelight/pkg/errors"
	"github.com/tombee/tracelight/pkg/observability"
	"github.com/tombee/tracelight/pkg/tracing/persist"
	"github.com/tombee/tracelight/pkg/tracing/redact"
)

// DefaultMaxSessions is the resident session bound used by the recorder
// when none is configured.
const DefaultMaxSessions = 1000

// rollbackTimeout bounds the write that undoes a partial mutation.
const rollbackTimeout = 5 * time.Second

// Config configures a Store.
type Config struct {
	// MaxSessions bounds the number of resident sessions. Zero or negative
	// means unbounded.
	MaxSessions int

	// Backend receives every mutation. Nil keeps state in memory only.
	Backend persist.Backend

	// Redactor sanitizes message content. Nil selects the standard redactor.
	Redactor *redact.Redactor

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Store is the span/session store.
type Store struct {
	mu sync.RWMutex

	arena *sessionArena
	spans map[string]*observability.Span

	maxSessions int
	backend     persist.Backend
	redactor    *redact.Redactor
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	newID       func() string
}

// New creates an empty store.
func New(cfg Config) *Store {
	s := &Store{
		arena:       newSessionArena(),
		spans:       make(map[string]*observability.Span),
		maxSessions: cfg.MaxSessions,
		backend:     cfg.Backend,
		redactor:    cfg.Redactor,
		logger:      log.WithComponent(log.OrDiscard(cfg.Logger), "store"),
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		newID:       cfg.NewID,
	}
	if s.backend == nil {
		s.backend = persist.NewMemory()
	}
	if s.redactor == nil {
		s.redactor = redact.NewRedactor(redact.ModeStandard, nil)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// StartSpan opens a pending span, creating its session when the id is empty
// or not resident. An unknown parent, or a parent from another session,
// yields a root span.
func (s *Store) StartSpan(ctx context.Context, req observability.StartSpanRequest) (observability.SpanRef, error) {
	if req.Name == "" {
		return observability.SpanRef{}, &tlerrors.ValidationError{Field: "name", Message: "span name is required"}
	}
	spanType := req.Type
	if spanType == "" {
		spanType = observability.SpanTypeCustom
	}
	if !spanType.Valid() {
		return observability.SpanRef{}, &tlerrors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown span type %q", spanType),
			Suggestion: "use one of http, llm, tool, retrieval, custom",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var session *observability.Session
	slot, exists := s.arena.get(req.SessionID)
	if exists {
		session = slot.session.Clone()
	} else {
		if err := s.makeRoomLocked(ctx); err != nil {
			return observability.SpanRef{}, err
		}
		id := req.SessionID
		if id == "" {
			id = s.newID()
		}
		session = &observability.Session{
			ID:        id,
			UserID:    req.UserID,
			Label:     req.Label,
			Status:    observability.SessionStatusActive,
			StartedAt: now,
		}
	}
	session.TotalSpans++

	span := &observability.Span{
		ID:        s.newID(),
		SessionID: session.ID,
		Name:      req.Name,
		Type:      spanType,
		Status:    observability.SpanStatusPending,
		Metadata:  maps.Clone(req.Metadata),
		StartedAt: now,
	}
	if req.ParentID != "" {
		if parent, ok := s.spans[req.ParentID]; ok && parent.SessionID == session.ID {
			span.ParentID = parent.ID
			span.Depth = parent.Depth + 1
		} else {
			log.WithSession(s.logger, session.ID, span.ID).Debug("parent span not found, recording as root",
				"parent_id", req.ParentID,
			)
		}
	}

	if err := s.backend.SaveSession(ctx, session); err != nil {
		s.metrics.RecordPersistenceError("save_session", err)
		return observability.SpanRef{}, fmt.Errorf("failed to persist session %s: %w", session.ID, err)
	}
	if err := s.backend.SaveSpan(ctx, span); err != nil {
		s.metrics.RecordPersistenceError("save_span", err)
		if exists {
			s.rollbackLocked(session.ID, "save_session", func(ctx context.Context) error {
				return s.backend.SaveSession(ctx, slot.session)
			})
		} else {
			s.rollbackLocked(session.ID, "delete_session", func(ctx context.Context) error {
				return s.backend.DeleteSession(ctx, session.ID, nil)
			})
		}
		return observability.SpanRef{}, fmt.Errorf("failed to persist span %s: %w", span.ID, err)
	}

	if exists {
		slot.session = session
	} else {
		slot = &sessionSlot{session: session}
		s.arena.insert(slot)
	}
	slot.spanIDs = append(slot.spanIDs, span.ID)
	s.spans[span.ID] = span

	s.metrics.SpanStarted(string(span.Type))
	log.Trace(log.WithSession(s.logger, session.ID, span.ID), "span started",
		slog.String("name", span.Name),
		slog.Int("depth", span.Depth),
	)

	return observability.SpanRef{TraceID: span.ID, SessionID: session.ID}, nil
}

// EndSpan terminates a pending span and folds its metrics into the session
// totals. Ending a span twice fails with a ConflictError and changes nothing.
func (s *Store) EndSpan(ctx context.Context, spanID string, req observability.EndSpanRequest) error {
	if !req.Status.Terminal() {
		return &tlerrors.ValidationError{
			Field:      "status",
			Message:    fmt.Sprintf("invalid end status %q", req.Status),
			Suggestion: "use ok or error",
		}
	}
	if req.Tokens != nil && (req.Tokens.Input < 0 || req.Tokens.Output < 0) {
		return &tlerrors.ValidationError{Field: "tokens", Message: "token counts must not be negative"}
	}
	if req.CostUSD != nil && *req.CostUSD < 0 {
		return &tlerrors.ValidationError{Field: "cost_usd", Message: "cost must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	span, ok := s.spans[spanID]
	if !ok {
		return &tlerrors.NotFoundError{Resource: "span", ID: spanID}
	}
	if span.Status.Terminal() {
		return &tlerrors.ConflictError{Resource: "span", ID: spanID, Reason: "already ended with status " + string(span.Status)}
	}
	slot, ok := s.arena.get(span.SessionID)
	if !ok {
		return &tlerrors.NotFoundError{Resource: "session", ID: span.SessionID}
	}

	now := s.now()
	next := span.Clone()
	applyEnd(next, req, now)

	session := slot.session.Clone()
	if req.Tokens != nil {
		session.TotalInputTokens += req.Tokens.Input
		session.TotalOutputTokens += req.Tokens.Output
	}
	if req.CostUSD != nil {
		session.TotalCostUSD += *req.CostUSD
	}
	if req.Status == observability.SpanStatusError {
		session.Status = observability.SessionStatusError
	}

	if err := s.backend.SaveSpan(ctx, next); err != nil {
		s.metrics.RecordPersistenceError("save_span", err)
		return fmt.Errorf("failed to persist span %s: %w", spanID, err)
	}
	if err := s.backend.SaveSession(ctx, session); err != nil {
		s.metrics.RecordPersistenceError("save_session", err)
		s.rollbackLocked(session.ID, "save_span", func(ctx context.Context) error {
			return s.backend.SaveSpan(ctx, span)
		})
		return fmt.Errorf("failed to persist session %s: %w", session.ID, err)
	}

	s.spans[spanID] = next
	slot.session = session

	s.metrics.SpanEnded(string(next.Type), string(next.Status))
	log.Trace(log.WithSession(s.logger, session.ID, spanID), "span ended",
		slog.String("status", string(next.Status)),
		slog.Int64(log.DurationKey, *next.DurationMS),
	)
	return nil
}

// rollbackLocked restores the persisted state of the first entity of a
// two-entity write after the second write failed. It runs even when the
// caller's context is done. A failed rollback is logged and counted; the
// in-memory state is still the committed one.
func (s *Store) rollbackLocked(sessionID, op string, undo func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := undo(ctx); err != nil {
		s.metrics.RecordPersistenceError(op, err)
		s.logger.Warn("failed to roll back partial write, persisted session may disagree with its spans",
			"session_id", sessionID,
			"op", op,
			log.Error(err),
		)
	}
}

// applyEnd writes the outcome of req onto span.
func applyEnd(span *observability.Span, req observability.EndSpanRequest, now time.Time) {
	span.Status = req.Status
	if req.Error != nil {
		e := *req.Error
		span.Error = &e
	}
	if req.Model != "" {
		span.Model = req.Model
	}
	if req.Tokens != nil {
		t := *req.Tokens
		span.Tokens = &t
	}
	if req.CostUSD != nil {
		c := *req.CostUSD
		span.CostUSD = &c
	}
	if req.Tool != "" {
		span.Tool = req.Tool
	}
	if req.ResourceIDs != nil {
		span.ResourceIDs = append([]string(nil), req.ResourceIDs...)
	}
	if len(req.Metadata) > 0 {
		if span.Metadata == nil {
			span.Metadata = make(map[string]any, len(req.Metadata))
		}
		maps.Copy(span.Metadata, req.Metadata)
	}

	end := now
	duration := end.Sub(span.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	span.EndedAt = &end
	span.DurationMS = &duration
}

// RecordMessage redacts and appends a message to its session. A non-empty
// TraceID must name a span of the same session.
func (s *Store) RecordMessage(ctx context.Context, req observability.RecordMessageRequest) error {
	if req.SessionID == "" {
		return &tlerrors.ValidationError{Field: "session_id", Message: "session id is required"}
	}
	if !req.Role.Valid() {
		return &tlerrors.ValidationError{
			Field:      "role",
			Message:    fmt.Sprintf("unknown message role %q", req.Role),
			Suggestion: "use one of user, assistant, system, tool",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.arena.get(req.SessionID)
	if !ok {
		return &tlerrors.NotFoundError{Resource: "session", ID: req.SessionID}
	}
	if req.TraceID != "" {
		span, ok := s.spans[req.TraceID]
		if !ok {
			return &tlerrors.NotFoundError{Resource: "span", ID: req.TraceID}
		}
		if span.SessionID != req.SessionID {
			return &tlerrors.ValidationError{
				Field:   "trace_id",
				Message: fmt.Sprintf("span %s belongs to session %s", req.TraceID, span.SessionID),
			}
		}
	}

	msg := &observability.Message{
		SessionID: req.SessionID,
		SpanID:    req.TraceID,
		Role:      req.Role,
		Content:   req.Content,
		Metadata:  maps.Clone(req.Metadata),
		CreatedAt: s.now(),
	}
	if redacted, changed := s.redactor.Redact(req.Content); changed {
		msg.RedactedContent = &redacted
		msg.IsRedacted = true
	}

	messages := append(slot.messages[:len(slot.messages):len(slot.messages)], msg)
	if err := s.backend.SaveMessages(ctx, req.SessionID, messages); err != nil {
		s.metrics.RecordPersistenceError("save_messages", err)
		return fmt.Errorf("failed to persist messages for session %s: %w", req.SessionID, err)
	}
	slot.messages = messages

	if msg.IsRedacted {
		s.metrics.MessageRedacted()
	}
	return nil
}

// StartSession creates a session explicitly. An empty ID is generated.
func (s *Store) StartSession(ctx context.Context, opts observability.SessionOptions) (*observability.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.ID != "" {
		if _, exists := s.arena.get(opts.ID); exists {
			return nil, &tlerrors.ConflictError{Resource: "session", ID: opts.ID, Reason: "already exists"}
		}
	}
	if err := s.makeRoomLocked(ctx); err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = s.newID()
	}
	session := &observability.Session{
		ID:        id,
		UserID:    opts.UserID,
		Label:     opts.Label,
		Status:    observability.SessionStatusActive,
		StartedAt: s.now(),
	}
	if err := s.backend.SaveSession(ctx, session); err != nil {
		s.metrics.RecordPersistenceError("save_session", err)
		return nil, fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	s.arena.insert(&sessionSlot{session: session})
	return session.Clone(), nil
}

// EndSession marks an active session completed. Sessions that already
// errored keep their status but record an end time. Ending a session again
// is a no-op.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.arena.get(sessionID)
	if !ok {
		return &tlerrors.NotFoundError{Resource: "session", ID: sessionID}
	}
	if slot.session.EndedAt != nil {
		return nil
	}

	session := slot.session.Clone()
	end := s.now()
	session.EndedAt = &end
	if session.Status == observability.SessionStatusActive {
		session.Status = observability.SessionStatusCompleted
	}

	if err := s.backend.SaveSession(ctx, session); err != nil {
		s.metrics.RecordPersistenceError("save_session", err)
		return fmt.Errorf("failed to persist session %s: %w", sessionID, err)
	}
	slot.session = session
	return nil
}

// Restore replaces the store's contents with snap, as produced by a
// backend's Load. Spans and messages of unknown sessions are dropped. When
// snap holds more sessions than the bound allows, the oldest are evicted.
func (s *Store) Restore(ctx context.Context, snap *persist.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.arena = newSessionArena()
	s.spans = make(map[string]*observability.Span)
	if snap == nil {
		return nil
	}

	for _, session := range snap.Sessions {
		if session == nil || session.ID == "" {
			continue
		}
		if _, dup := s.arena.get(session.ID); dup {
			continue
		}
		s.arena.insert(&sessionSlot{session: session.Clone()})
	}

	orphans := 0
	for _, span := range snap.Spans {
		if span == nil {
			continue
		}
		slot, ok := s.arena.get(span.SessionID)
		if !ok {
			orphans++
			continue
		}
		slot.spanIDs = append(slot.spanIDs, span.ID)
		s.spans[span.ID] = span.Clone()
	}
	for sessionID, msgs := range snap.Messages {
		slot, ok := s.arena.get(sessionID)
		if !ok {
			orphans += len(msgs)
			continue
		}
		slot.messages = make([]*observability.Message, 0, len(msgs))
		for _, m := range msgs {
			slot.messages = append(slot.messages, m.Clone())
		}
	}
	if orphans > 0 {
		s.logger.Warn("dropped persisted records without a session", "count", orphans)
	}

	for s.maxSessions > 0 && s.arena.len() > s.maxSessions {
		victim, _ := s.arena.oldest()
		if err := s.backend.DeleteSession(ctx, victim.session.ID, victim.spanIDs); err != nil {
			s.metrics.RecordPersistenceError("delete_session", err)
			return fmt.Errorf("failed to evict session %s: %w", victim.session.ID, err)
		}
		s.evictOldestLocked()
	}

	s.logger.Debug("store restored",
		"sessions", s.arena.len(),
		"spans", len(s.spans),
	)
	return nil
}

// Snapshot returns a deep copy of every resident record. It implements
// persist.SnapshotSource.
func (s *Store) Snapshot() *persist.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := persist.NewSnapshot()
	snap.Sessions = make([]*observability.Session, 0, s.arena.len())
	snap.Spans = make([]*observability.Span, 0, len(s.spans))
	s.arena.each(func(slot *sessionSlot) {
		snap.Sessions = append(snap.Sessions, slot.session.Clone())
		for _, id := range slot.spanIDs {
			snap.Spans = append(snap.Spans, s.spans[id].Clone())
		}
		if len(slot.messages) > 0 {
			snap.Messages[slot.session.ID] = cloneMessages(slot.messages)
		}
	})
	return snap
}

// SessionCount returns the number of resident sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.len()
}

// SpanCount returns the number of resident spans.
func (s *Store) SpanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spans)
}

func cloneMessages(msgs []*observability.Message) []*observability.Message {
	out := make([]*observability.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
