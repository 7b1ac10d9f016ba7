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

package persist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/pkg/observability"
)

// Durable is the write-through strategy: every mutation is written to its
// own JSON document before the store operation returns.
//
// Layout under the base directory:
//
//	sessions/<session id>.json   one Session
//	traces/<span id>.json        one Span
//	messages/<session id>.json   the session's full ordered []Message
type Durable struct {
	layout layout
	logger *slog.Logger
}

// NewDurable creates a durable backend rooted at dir, creating the three
// entity directories if needed.
func NewDurable(dir string, logger *slog.Logger) (*Durable, error) {
	if dir == "" {
		return nil, fmt.Errorf("durable store path is required")
	}
	l := layout{root: dir}
	if err := l.ensure(); err != nil {
		return nil, err
	}
	return &Durable{
		layout: l,
		logger: log.WithComponent(log.OrDiscard(logger), "persist.durable"),
	}, nil
}

// Dir returns the base directory.
func (d *Durable) Dir() string {
	return d.layout.root
}

// Load scans the three directories concurrently and returns their contents.
func (d *Durable) Load(ctx context.Context) (*Snapshot, error) {
	var (
		sessions []document[*observability.Session]
		spans    []document[*observability.Span]
		messages []document[[]*observability.Message]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = readJSONDir[*observability.Session](gctx, filepath.Join(d.layout.root, SessionsDir))
		return err
	})
	g.Go(func() error {
		var err error
		spans, err = readJSONDir[*observability.Span](gctx, filepath.Join(d.layout.root, TracesDir))
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = readJSONDir[[]*observability.Message](gctx, filepath.Join(d.layout.root, MessagesDir))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load durable store: %w", err)
	}

	snap := NewSnapshot()
	for _, doc := range sessions {
		if doc.Value != nil {
			snap.Sessions = append(snap.Sessions, doc.Value)
		}
	}
	for _, doc := range spans {
		if doc.Value != nil {
			snap.Spans = append(snap.Spans, doc.Value)
		}
	}
	for _, doc := range messages {
		if len(doc.Value) > 0 {
			snap.Messages[doc.ID] = doc.Value
		}
	}
	snap.Sort()

	d.logger.Debug("loaded durable store",
		"dir", d.layout.root,
		"sessions", len(snap.Sessions),
		"spans", len(snap.Spans),
	)
	return snap, nil
}

// SaveSession writes sessions/<id>.json.
func (d *Durable) SaveSession(ctx context.Context, session *observability.Session) error {
	path, err := d.layout.sessionPath(session.ID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	return writeJSONFile(path, session)
}

// SaveSpan writes traces/<id>.json.
func (d *Durable) SaveSpan(ctx context.Context, span *observability.Span) error {
	path, err := d.layout.spanPath(span.ID)
	if err != nil {
		return fmt.Errorf("invalid span id: %w", err)
	}
	return writeJSONFile(path, span)
}

// SaveMessages rewrites messages/<session id>.json in full.
func (d *Durable) SaveMessages(ctx context.Context, sessionID string, messages []*observability.Message) error {
	path, err := d.layout.messagesPath(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	if messages == nil {
		messages = []*observability.Message{}
	}
	return writeJSONFile(path, messages)
}

// DeleteSession removes every file belonging to the session. The session
// document is removed last.
func (d *Durable) DeleteSession(ctx context.Context, sessionID string, spanIDs []string) error {
	for _, id := range spanIDs {
		path, err := d.layout.spanPath(id)
		if err != nil {
			return fmt.Errorf("invalid span id: %w", err)
		}
		if err := removeFile(path); err != nil {
			return err
		}
	}

	msgPath, err := d.layout.messagesPath(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	if err := removeFile(msgPath); err != nil {
		return err
	}

	sessPath, err := d.layout.sessionPath(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	return removeFile(sessPath)
}

// Attach is a no-op; every mutation is already on disk.
func (d *Durable) Attach(SnapshotSource) {}

// Close is a no-op; there is nothing buffered.
func (d *Durable) Close(ctx context.Context) error {
	return nil
}
