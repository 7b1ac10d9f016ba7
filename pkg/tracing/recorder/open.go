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

package recorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/tracelight/internal/config"
	"github.com/tombee/tracelight/internal/metrics"
	tlerrors "github.com/tombee/tracelight/pkg/errors"
	"github.com/tombee/tracelight/pkg/tracing/persist"
)

// OpenBackend creates the persistence backend selected by cfg.Mode.
func OpenBackend(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger, m *metrics.Metrics) (persist.Backend, error) {
	switch cfg.Mode {
	case persist.ModeEphemeral, "":
		return persist.NewEphemeral(persist.EphemeralConfig{
			Dir:            cfg.Path,
			Interval:       cfg.SnapshotInterval,
			MaxQueuedBytes: cfg.MaxQueuedBytes,
			Logger:         logger,
			Metrics:        m,
		})
	case persist.ModeDurable:
		if cfg.Path == "" {
			return nil, &tlerrors.ConfigError{Key: "store.path", Reason: "required for durable mode"}
		}
		return persist.NewDurable(cfg.Path, logger)
	case persist.ModeSQLite:
		if cfg.Path == "" {
			return nil, &tlerrors.ConfigError{Key: "store.path", Reason: "required for sqlite mode"}
		}
		return persist.NewSQLite(ctx, persist.SQLiteConfig{
			Path:             cfg.Path,
			EnableEncryption: cfg.Encrypt,
			Logger:           logger,
		})
	default:
		return nil, &tlerrors.ConfigError{
			Key:    "store.mode",
			Reason: fmt.Sprintf("unknown mode %q", cfg.Mode),
		}
	}
}

// Open builds a Service from a loaded configuration.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	backend, err := OpenBackend(ctx, cfg.Store, logger, m)
	if err != nil {
		return nil, err
	}
	return openWith(ctx, cfg, backend, cfg.Store.MaxSessions, logger, m)
}

// OpenReadOnly builds a Service that reads the configured store without
// changing it. An ephemeral store with a path is read from its last snapshot,
// and the session bound is lifted so nothing is evicted on load. Writes made
// through the returned Service stay in memory.
func OpenReadOnly(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	storeCfg := cfg.Store
	if (storeCfg.Mode == persist.ModeEphemeral || storeCfg.Mode == "") && storeCfg.Path != "" {
		// Snapshots share the durable layout.
		storeCfg.Mode = persist.ModeDurable
	}
	backend, err := OpenBackend(ctx, storeCfg, logger, m)
	if err != nil {
		return nil, err
	}
	return openWith(ctx, cfg, persist.ReadOnly(backend), -1, logger, m)
}

func openWith(ctx context.Context, cfg *config.Config, backend persist.Backend, maxSessions int, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	redactor, err := cfg.Redaction.Redactor()
	if err != nil {
		_ = backend.Close(ctx)
		return nil, err
	}

	svc, err := New(ctx, Options{
		MaxSessions: maxSessions,
		Backend:     backend,
		Redactor:    redactor,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		// Backend Close errors are secondary to the load failure.
		_ = backend.Close(ctx)
		return nil, err
	}
	return svc, nil
}
