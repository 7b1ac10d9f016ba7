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


package shared

import (
	"context"
	"io"
	"log/slog"

	"github.com/tombee/tracelight/internal/config"
	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/internal/metrics"
	"github.com/tombee/tracelight/pkg/observability"
	"github.com/tombee/tracelight/pkg/tracing/persist"
	"github.com/tombee/tracelight/pkg/tracing/recorder"
	"github.com/tombee/tracelight/pkg/tracing/remote"
)

// LoadConfig loads the file named by --config, or the user config file when
// present, and applies the --store and --remote overrides on top of it.
func LoadConfig() (*config.Config, error) {
	path := GetConfigPath()
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}

	if path := GetStorePath(); path != "" {
		cfg.Store.Path = path
		if cfg.Store.Mode == persist.ModeEphemeral {
			cfg.Store.Mode = persist.ModeDurable
		}
	}
	if url := GetRemoteURL(); url != "" {
		cfg.Remote.BaseURL = url
	}
	if GetVerbose() {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	return log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    out,
		AddSource: cfg.Log.AddSource,
	})
}

// CloseFunc releases whatever OpenRecorder opened.
type CloseFunc func(ctx context.Context) error

// OpenRecorder returns the recorder that query commands read from: the
// hosted service when a remote URL is configured, otherwise the local store
// opened read-only so a query never rewrites or prunes a server's files.
func OpenRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (observability.Recorder, CloseFunc, error) {
	if cfg.RemoteEnabled() {
		client, err := remote.New(remote.Config{
			BaseURL:   cfg.Remote.BaseURL,
			APIKey:    cfg.Remote.APIKey,
			ProjectID: cfg.Remote.ProjectID,
			Timeout:   cfg.Remote.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, NewConfigError("invalid remote configuration", err)
		}
		return client, func(context.Context) error { return nil }, nil
	}

	svc, err := recorder.OpenReadOnly(ctx, cfg, logger, m)
	if err != nil {
		return nil, nil, NewExecutionError("failed to open store", err)
	}
	return svc, svc.Close, nil
}
