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

package store

import (
	"sort"
	"strings"

	tlerrors "github.com/tombee/tracelight/pkg/errors"
	"github.com/tombee/tracelight/pkg/observability"
)

// Span returns a copy of one span.
func (s *Store) Span(spanID string) (*observability.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	span, ok := s.spans[spanID]
	if !ok {
		return nil, &tlerrors.NotFoundError{Resource: "span", ID: spanID}
	}
	return span.Clone(), nil
}

// SpanMessages returns the messages recorded against a span, in order.
// Session-scoped messages (no span) are never included.
func (s *Store) SpanMessages(spanID string) ([]*observability.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	span, ok := s.spans[spanID]
	if !ok {
		return nil, &tlerrors.NotFoundError{Resource: "span", ID: spanID}
	}
	slot, ok := s.arena.get(span.SessionID)
	if !ok {
		return nil, &tlerrors.NotFoundError{Resource: "session", ID: span.SessionID}
	}

	out := make([]*observability.Message, 0)
	for _, m := range slot.messages {
		if m.SpanID == spanID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// Graph returns the session's spans in creation order and one edge per
// span that has a parent.
func (s *Store) Graph(sessionID string) (*observability.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.arena.get(sessionID)
	if !ok {
		return nil, &tlerrors.NotFoundError{Resource: "session", ID: sessionID}
	}

	g := &observability.Graph{
		Nodes: make([]*observability.Span, 0, len(slot.spanIDs)),
		Edges: []observability.Edge{},
	}
	for _, id := range slot.spanIDs {
		span := s.spans[id]
		g.Nodes = append(g.Nodes, span.Clone())
		if span.ParentID != "" {
			g.Edges = append(g.Edges, observability.Edge{From: span.ParentID, To: span.ID})
		}
	}
	return g, nil
}

// Details returns the session with its messages in recording order.
func (s *Store) Details(sessionID string) (*observability.SessionDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.arena.get(sessionID)
	if !ok {
		return nil, &tlerrors.NotFoundError{Resource: "session", ID: sessionID}
	}
	return &observability.SessionDetails{
		Session:  *slot.session.Clone(),
		Messages: cloneMessages(slot.messages),
	}, nil
}

// List returns the sessions matching filter, newest first.
func (s *Store) List(filter observability.ListFilter) *observability.SessionPage {
	filter.Normalize()
	label := strings.ToLower(filter.LabelContains)

	s.mu.RLock()
	var matched []*observability.Session
	s.arena.each(func(slot *sessionSlot) {
		sess := slot.session
		if filter.UserID != "" && sess.UserID != filter.UserID {
			return
		}
		if label != "" && !strings.Contains(strings.ToLower(sess.Label), label) {
			return
		}
		if !filter.TimeRange.Contains(sess.StartedAt) {
			return
		}
		matched = append(matched, sess.Clone())
	})
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.After(b.StartedAt)
		}
		return a.ID > b.ID
	})

	page := &observability.SessionPage{
		Sessions: []*observability.Session{},
		Total:    len(matched),
		Page:     filter.Page,
		Limit:    filter.Limit,
	}
	start := (filter.Page - 1) * filter.Limit
	if start < len(matched) {
		end := min(start+filter.Limit, len(matched))
		page.Sessions = matched[start:end]
	}
	return page
}

// Summary aggregates the sessions started within tr. A nil range covers
// every resident session.
func (s *Store) Summary(tr *observability.TimeRange) *observability.SessionsSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		summary       observability.SessionsSummary
		errored       int
		completed     int
		totalDuration int64
	)
	s.arena.each(func(slot *sessionSlot) {
		sess := slot.session
		if !tr.Contains(sess.StartedAt) {
			return
		}
		summary.TotalSessions++
		summary.TotalCostUSD += sess.TotalCostUSD
		switch sess.Status {
		case observability.SessionStatusActive:
			summary.ActiveSessions++
		case observability.SessionStatusError:
			errored++
		case observability.SessionStatusCompleted:
			if sess.EndedAt != nil {
				completed++
				totalDuration += sess.EndedAt.Sub(sess.StartedAt).Milliseconds()
			}
		}
	})

	if completed > 0 {
		summary.AvgDurationMS = float64(totalDuration) / float64(completed)
	}
	if summary.TotalSessions > 0 {
		summary.ErrorRate = float64(errored) / float64(summary.TotalSessions)
	}
	return &summary
}
