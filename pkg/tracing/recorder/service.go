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

// Package recorder provides the local recording service: the store, its
// redactor and its persistence backend behind the observability.Recorder
// contract.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/internal/metrics"
	"github.com/tombee/tracelight/pkg/observability"
	"github.com/tombee/tracelight/pkg/tracing/persist"
	"github.com/tombee/tracelight/pkg/tracing/redact"
	"github.com/tombee/tracelight/pkg/tracing/store"
)

var _ observability.Recorder = (*Service)(nil)

// Options configures a Service.
type Options struct {
	// MaxSessions bounds resident sessions. Zero selects
	// store.DefaultMaxSessions; negative disables the bound.
	MaxSessions int

	// Backend persists state. Nil keeps everything in memory.
	Backend persist.Backend

	// Redactor sanitizes message content. Nil selects standard redaction.
	Redactor *redact.Redactor

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now and NewID override the clock and id source.
	Now   func() time.Time
	NewID func() string
}

// Service is the local implementation of observability.Recorder.
type Service struct {
	store   *store.Store
	backend persist.Backend
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a service, rehydrating the store from the backend before
// attaching the backend's snapshot loop (if any).
func New(ctx context.Context, opts Options) (*Service, error) {
	logger := log.WithComponent(log.OrDiscard(opts.Logger), "recorder")

	maxSessions := opts.MaxSessions
	if maxSessions == 0 {
		maxSessions = store.DefaultMaxSessions
	}
	backend := opts.Backend
	if backend == nil {
		backend = persist.NewMemory()
	}

	st := store.New(store.Config{
		MaxSessions: maxSessions,
		Backend:     backend,
		Redactor:    opts.Redactor,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
		Now:         opts.Now,
		NewID:       opts.NewID,
	})

	start := time.Now()
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}
	if err := st.Restore(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to restore persisted state: %w", err)
	}
	backend.Attach(st)

	logger.Info("recorder ready",
		"sessions", st.SessionCount(),
		"spans", st.SpanCount(),
		"max_sessions", maxSessions,
		log.DurationKey, time.Since(start).Milliseconds(),
	)

	return &Service{
		store:   st,
		backend: backend,
		logger:  logger,
	}, nil
}

// Store exposes the underlying store for read paths that need more than the
// Recorder contract.
func (s *Service) Store() *store.Store {
	return s.store
}

// StartSpan opens a pending span.
func (s *Service) StartSpan(ctx context.Context, req observability.StartSpanRequest) (observability.SpanRef, error) {
	return s.store.StartSpan(ctx, req)
}

// EndSpan terminates a pending span.
func (s *Service) EndSpan(ctx context.Context, traceID string, req observability.EndSpanRequest) error {
	return s.store.EndSpan(ctx, traceID, req)
}

// RecordMessage stores a redacted message.
func (s *Service) RecordMessage(ctx context.Context, req observability.RecordMessageRequest) error {
	return s.store.RecordMessage(ctx, req)
}

// StartSession creates a session explicitly.
func (s *Service) StartSession(ctx context.Context, opts observability.SessionOptions) (*observability.Session, error) {
	return s.store.StartSession(ctx, opts)
}

// EndSession marks a session completed.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	return s.store.EndSession(ctx, sessionID)
}

// GetSessionGraph returns the session's spans and parent edges.
func (s *Service) GetSessionGraph(ctx context.Context, sessionID string) (*observability.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.Graph(sessionID)
}

// GetSessionDetails returns the session with its messages.
func (s *Service) GetSessionDetails(ctx context.Context, sessionID string) (*observability.SessionDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.Details(sessionID)
}

// GetSpanMessages returns the messages recorded against one span.
func (s *Service) GetSpanMessages(ctx context.Context, spanID string) ([]*observability.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.SpanMessages(spanID)
}

// ListSessions returns a page of sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, filter observability.ListFilter) (*observability.SessionPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.List(filter), nil
}

// GetSessionsSummary aggregates sessions started within tr.
func (s *Service) GetSessionsSummary(ctx context.Context, tr *observability.TimeRange) (*observability.SessionsSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.Summary(tr), nil
}

// Close stops background work and releases the backend. Ephemeral backends
// write a final snapshot. Close is safe to call more than once.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.backend.Close(ctx); err != nil {
			s.closeErr = fmt.Errorf("failed to close backend: %w", err)
			return
		}
		s.logger.Debug("recorder closed", "sessions", s.store.SessionCount())
	})
	return s.closeErr
}
