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
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/pkg/observability"
)

// SQLiteConfig contains SQLite backend configuration.
type SQLiteConfig struct {
	// Path is the filesystem path to the database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int

	// EnableEncryption encrypts message payloads with AES-256-GCM.
	// Requires TRACELIGHT_STORE_KEY to be set.
	EnableEncryption bool

	Logger *slog.Logger
}

// SQLite is a write-through backend that stores each entity as a JSON
// document row in an embedded database.
type SQLite struct {
	db            *sql.DB
	encryptionKey *EncryptionKey
	logger        *slog.Logger
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path
	maxConns := cfg.MaxOpenConns
	if cfg.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		maxConns = 1
	} else {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
		if maxConns == 0 {
			maxConns = 5
		}
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLite{
		db:     db,
		logger: log.WithComponent(log.OrDiscard(cfg.Logger), "persist.sqlite"),
	}

	if cfg.EnableEncryption {
		key, err := LoadEncryptionKey()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		if key == nil {
			db.Close()
			return nil, fmt.Errorf("encryption enabled but no key found (set %s)", KeyEnvVar)
		}
		s.encryptionKey = key
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate creates the database schema.
func (s *SQLite) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,

		`CREATE TABLE IF NOT EXISTS spans (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_session_id ON spans(session_id)`,

		// One row per session holding the full ordered message list.
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT PRIMARY KEY,
			encrypted INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Load reads all three tables concurrently.
func (s *SQLite) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Sessions, err = querySessions(gctx, s.db)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Spans, err = querySpans(gctx, s.db)
		return err
	})
	var messages map[string][]*observability.Message
	g.Go(func() error {
		var err error
		messages, err = s.queryMessages(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load sqlite store: %w", err)
	}
	snap.Messages = messages
	snap.Sort()

	s.logger.Debug("loaded sqlite store",
		"sessions", len(snap.Sessions),
		"spans", len(snap.Spans),
	)
	return snap, nil
}

func querySessions(ctx context.Context, db *sql.DB) ([]*observability.Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT data FROM sessions ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*observability.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var session observability.Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

func querySpans(ctx context.Context, db *sql.DB) ([]*observability.Span, error) {
	rows, err := db.QueryContext(ctx, `SELECT data FROM spans ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	var out []*observability.Span
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		var span observability.Span
		if err := json.Unmarshal([]byte(data), &span); err != nil {
			return nil, fmt.Errorf("failed to decode span: %w", err)
		}
		out = append(out, &span)
	}
	return out, rows.Err()
}

func (s *SQLite) queryMessages(ctx context.Context) (map[string][]*observability.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, encrypted, data FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]*observability.Message)
	for rows.Next() {
		var (
			sessionID string
			encrypted bool
			data      string
		)
		if err := rows.Scan(&sessionID, &encrypted, &data); err != nil {
			return nil, fmt.Errorf("failed to scan messages: %w", err)
		}

		raw := []byte(data)
		if encrypted {
			if s.encryptionKey == nil {
				return nil, fmt.Errorf("messages for session %s are encrypted but no key is configured", sessionID)
			}
			raw, err = s.encryptionKey.Decrypt(data)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt messages for session %s: %w", sessionID, err)
			}
		}

		var msgs []*observability.Message
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("failed to decode messages for session %s: %w", sessionID, err)
		}
		if len(msgs) > 0 {
			out[sessionID] = msgs
		}
	}
	return out, rows.Err()
}

// SaveSession upserts a session row.
func (s *SQLite) SaveSession(ctx context.Context, session *observability.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		session.ID, session.StartedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// SaveSpan upserts a span row.
func (s *SQLite) SaveSpan(ctx context.Context, span *observability.Span) error {
	data, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("failed to marshal span: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spans (id, session_id, started_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		span.ID, span.SessionID, span.StartedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to store span: %w", err)
	}
	return nil
}

// SaveMessages replaces a session's message row, encrypting it when a key
// is configured.
func (s *SQLite) SaveMessages(ctx context.Context, sessionID string, messages []*observability.Message) error {
	if messages == nil {
		messages = []*observability.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	data := string(raw)
	encrypted := false
	if s.encryptionKey != nil {
		data, err = s.encryptionKey.Encrypt(raw)
		if err != nil {
			return fmt.Errorf("failed to encrypt messages: %w", err)
		}
		encrypted = true
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, encrypted, data) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET encrypted = excluded.encrypted, data = excluded.data`,
		sessionID, encrypted, data,
	)
	if err != nil {
		return fmt.Errorf("failed to store messages: %w", err)
	}
	return nil
}

// DeleteSession removes a session and everything keyed to it in one
// transaction.
func (s *SQLite) DeleteSession(ctx context.Context, sessionID string, _ []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM spans WHERE session_id = ?`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Attach is a no-op; every mutation is already stored.
func (s *SQLite) Attach(SnapshotSource) {}

// Close closes the database.
func (s *SQLite) Close(ctx context.Context) error {
	return s.db.Close()
}
