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

// Package persist provides the persistence strategies used by the span store.
//
// Three strategies implement Backend:
//   - Ephemeral keeps everything in memory and optionally snapshots the
//     store to disk on a ticker.
//   - Durable writes every mutation through to one JSON file per entity and
//     rehydrates from those files on Load.
//   - SQLite writes every mutation through to an embedded database.
package persist

import (
	"context"
	"sort"

	"github.com/tombee/tracelight/pkg/observability"
)

// Mode selects a persistence strategy.
type Mode string

const (
	ModeEphemeral Mode = "ephemeral"
	ModeDurable   Mode = "durable"
	ModeSQLite    Mode = "sqlite"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeEphemeral, ModeDurable, ModeSQLite:
		return true
	}
	return false
}

// Backend is the write/read contract the span store persists through.
//
// Save and delete calls are made while the store holds its writer lock, so a
// backend never sees concurrent mutations. Load is called once before the
// store becomes usable.
type Backend interface {
	// Load returns all persisted entities. Backends with nothing to restore
	// return an empty snapshot.
	Load(ctx context.Context) (*Snapshot, error)

	// SaveSession persists the current state of a session.
	SaveSession(ctx context.Context, session *observability.Session) error

	// SaveSpan persists the current state of a span.
	SaveSpan(ctx context.Context, span *observability.Span) error

	// SaveMessages replaces the persisted message list of a session.
	SaveMessages(ctx context.Context, sessionID string, messages []*observability.Message) error

	// DeleteSession removes a session, its spans and its messages.
	DeleteSession(ctx context.Context, sessionID string, spanIDs []string) error

	// Attach gives the backend a source of consistent full snapshots.
	Attach(src SnapshotSource)

	// Close flushes unsaved state and releases background resources.
	Close(ctx context.Context) error
}

// SnapshotSource produces a consistent deep copy of the store's contents.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// Snapshot is the full persisted state of a store.
type Snapshot struct {
	// Sessions are ordered oldest-inserted first.
	Sessions []*observability.Session `json:"sessions"`

	Spans []*observability.Span `json:"spans"`

	// Messages maps a session id to its ordered message list.
	Messages map[string][]*observability.Message `json:"messages"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Messages: make(map[string][]*observability.Message)}
}

// Sort orders sessions by start time and spans by start time, falling back
// to ids so that the order is stable across loads.
func (s *Snapshot) Sort() {
	sort.SliceStable(s.Sessions, func(i, j int) bool {
		a, b := s.Sessions[i], s.Sessions[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(s.Spans, func(i, j int) bool {
		a, b := s.Spans[i], s.Spans[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.ID < b.ID
	})
	for _, msgs := range s.Messages {
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})
	}
}
