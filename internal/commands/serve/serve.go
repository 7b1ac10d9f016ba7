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


// Package serve implements the command that runs the recorder API server.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/internal/metrics"
	"github.com/tombee/tracelight/internal/server"
	"github.com/tombee/tracelight/pkg/tracing/recorder"
)

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder API server",
		Long: `Run an HTTP server that records spans, messages and sessions sent by
remote clients and answers session queries.

The store mode, redaction and API keys come from the configuration file and
TRACELIGHT_* environment variables.`,
		Example: `  # Serve with the default configuration
  tracelight serve

  # Persist to a durable store and listen on all interfaces
  tracelight serve --store ./traces --addr 0.0.0.0:9877`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (default: server.addr)")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, addr string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())
	v, _, _ := shared.GetVersion()
	logger.Info("tracelight starting",
		"version", v,
		"store_mode", cfg.Store.Mode,
		"redaction_mode", cfg.Redaction.Mode,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	svc, err := recorder.Open(ctx, cfg, logger, m)
	if err != nil {
		return shared.NewExecutionError("failed to open store", err)
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to close store", log.Error(err))
		}
	}()

	srv, err := server.New(server.Options{
		Config:   cfg.Server,
		Recorder: svc,
		Gatherer: reg,
		Version:  v,
		Logger:   logger,
	})
	if err != nil {
		return shared.NewExecutionError("failed to create server", err)
	}

	if err := srv.Start(ctx); err != nil {
		return shared.NewExecutionError("server failed", err)
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
