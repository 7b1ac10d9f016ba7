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
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/internal/metrics"
	"github.com/tombee/tracelight/pkg/observability"
)

// EphemeralConfig configures the in-memory strategy.
type EphemeralConfig struct {
	// Dir is where snapshots are written. Empty disables snapshots.
	Dir string

	// Interval is the snapshot period. Zero disables the background ticker;
	// a final snapshot is still written on Close when Dir is set.
	Interval time.Duration

	// MaxQueuedBytes bounds writes waiting to reach disk.
	// Zero selects DefaultMaxQueuedBytes.
	MaxQueuedBytes int64

	// SnapshotTimeout bounds one background snapshot. Defaults to one minute.
	SnapshotTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Ephemeral keeps all state in the store's memory. When a directory is
// configured it periodically writes the whole store to sessions/, traces/ and
// messages/ under it, overwriting the previous snapshot. Nothing written
// after the last snapshot survives a crash.
type Ephemeral struct {
	cfg     EphemeralConfig
	layout  layout
	logger  *slog.Logger
	metrics *metrics.Metrics
	queue   *writeQueue

	// flushMu serializes snapshot passes.
	flushMu sync.Mutex

	mu      sync.Mutex
	source  SnapshotSource
	started bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEphemeral creates an ephemeral backend.
func NewEphemeral(cfg EphemeralConfig) (*Ephemeral, error) {
	if cfg.SnapshotTimeout == 0 {
		cfg.SnapshotTimeout = time.Minute
	}
	e := &Ephemeral{
		cfg:     cfg,
		layout:  layout{root: cfg.Dir},
		logger:  log.WithComponent(log.OrDiscard(cfg.Logger), "persist.ephemeral"),
		metrics: cfg.Metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	e.queue = newWriteQueue(cfg.MaxQueuedBytes, cfg.Metrics.SetSnapshotQueueBytes)

	if cfg.Dir != "" {
		if err := e.layout.ensure(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// NewMemory returns an ephemeral backend that never writes snapshots.
func NewMemory() *Ephemeral {
	e := &Ephemeral{
		cfg:    EphemeralConfig{SnapshotTimeout: time.Minute},
		logger: log.Discard(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	e.queue = newWriteQueue(0, nil)
	return e
}

// Load returns an empty snapshot. Snapshots are a best-effort dump and are
// never read back.
func (e *Ephemeral) Load(ctx context.Context) (*Snapshot, error) {
	return NewSnapshot(), nil
}

// SaveSession is a no-op.
func (e *Ephemeral) SaveSession(context.Context, *observability.Session) error { return nil }

// SaveSpan is a no-op.
func (e *Ephemeral) SaveSpan(context.Context, *observability.Span) error { return nil }

// SaveMessages is a no-op.
func (e *Ephemeral) SaveMessages(context.Context, string, []*observability.Message) error {
	return nil
}

// DeleteSession is a no-op; the next snapshot prunes the session's files.
func (e *Ephemeral) DeleteSession(context.Context, string, []string) error { return nil }

// Attach sets the snapshot source and starts the snapshot ticker if one is
// configured.
func (e *Ephemeral) Attach(src SnapshotSource) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.source = src
	if e.started || e.closed || e.cfg.Dir == "" || e.cfg.Interval <= 0 {
		return
	}
	e.started = true
	go e.run()
}

// run is the snapshot loop.
func (e *Ephemeral) run() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SnapshotTimeout)
			if err := e.Flush(ctx); err != nil {
				e.logger.Warn("snapshot failed, pending writes kept for retry",
					log.Error(err),
					"queued_bytes", e.queue.size(),
				)
			}
			cancel()
		case <-e.stopCh:
			e.logger.Debug("snapshot loop stopping")
			return
		}
	}
}

// Flush snapshots the attached source and drains the write queue.
func (e *Ephemeral) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	src := e.source
	e.mu.Unlock()

	if src == nil || e.cfg.Dir == "" {
		return nil
	}

	start := time.Now()
	if err := e.enqueueSnapshot(src.Snapshot()); err != nil {
		e.metrics.RecordPersistenceError("snapshot", err)
		return err
	}
	written, err := e.drain(ctx)
	if err != nil {
		e.metrics.RecordPersistenceError("snapshot", err)
		return err
	}

	e.logger.Debug("snapshot written",
		"writes", written,
		log.DurationKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// enqueueSnapshot queues one write per entity plus removals for files of
// entities no longer in the store.
func (e *Ephemeral) enqueueSnapshot(snap *Snapshot) error {
	keep := map[string]map[string]bool{
		SessionsDir: {},
		TracesDir:   {},
		MessagesDir: {},
	}

	enqueue := func(dir, id string, v any) error {
		name, err := fileName(id)
		if err != nil {
			return fmt.Errorf("invalid id in %s: %w", dir, err)
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", dir, name, err)
		}
		keep[dir][name] = true
		e.push(writeOp{path: filepath.Join(e.layout.root, dir, name), data: data})
		return nil
	}

	for _, s := range snap.Sessions {
		if err := enqueue(SessionsDir, s.ID, s); err != nil {
			return err
		}
		msgs := snap.Messages[s.ID]
		if msgs == nil {
			msgs = []*observability.Message{}
		}
		if err := enqueue(MessagesDir, s.ID, msgs); err != nil {
			return err
		}
	}
	for _, span := range snap.Spans {
		if err := enqueue(TracesDir, span.ID, span); err != nil {
			return err
		}
	}

	for dir, names := range keep {
		existing, err := listFiles(filepath.Join(e.layout.root, dir))
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for name := range existing {
			if !names[name] {
				e.push(writeOp{path: filepath.Join(e.layout.root, dir, name)})
			}
		}
	}
	return nil
}

func (e *Ephemeral) push(op writeOp) {
	if dropped := e.queue.push(op); dropped > 0 {
		e.logger.Warn("snapshot queue full, dropped oldest pending writes",
			"dropped", dropped,
			"max_queued_bytes", e.queue.maxBytes,
		)
	}
}

// drain performs queued writes in order. On failure the failed write and
// everything after it go back to the head of the queue.
func (e *Ephemeral) drain(ctx context.Context) (int, error) {
	ops := e.queue.take()
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			e.requeue(ops[i:])
			return i, err
		}
		var err error
		if op.data == nil {
			err = removeFile(op.path)
		} else {
			err = writeFileAtomic(op.path, op.data)
		}
		if err != nil {
			e.requeue(ops[i:])
			return i, err
		}
	}
	return len(ops), nil
}

func (e *Ephemeral) requeue(ops []writeOp) {
	if dropped := e.queue.requeue(ops); dropped > 0 {
		e.logger.Warn("snapshot queue full, dropped oldest pending writes",
			"dropped", dropped,
			"max_queued_bytes", e.queue.maxBytes,
		)
	}
}

// Close stops the snapshot loop and writes a final snapshot.
func (e *Ephemeral) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()

	if started {
		close(e.stopCh)
		<-e.doneCh
	}

	if err := e.Flush(ctx); err != nil {
		return fmt.Errorf("final snapshot failed: %w", err)
	}
	return nil
}
