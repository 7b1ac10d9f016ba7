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

// Package server exposes a recorder over the HTTP API consumed by the
// remote transport client.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/tracelight/internal/config"
	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/pkg/observability"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 20

// Recorder is the recorder surface served by the API.
type Recorder interface {
	observability.Recorder

	// StartSession creates a session explicitly.
	StartSession(ctx context.Context, opts observability.SessionOptions) (*observability.Session, error)
}

// Options configures a Server.
type Options struct {
	Config   config.ServerConfig
	Recorder Recorder

	// Gatherer backs GET /metrics. Nil leaves the endpoint out.
	Gatherer prometheus.Gatherer

	// Version is reported by GET /healthz.
	Version string

	Logger *slog.Logger
}

// Server manages the lifecycle of the API HTTP server.
type Server struct {
	cfg     config.ServerConfig
	rec     Recorder
	logger  *slog.Logger
	server  *http.Server
	version string
	started time.Time

	mu sync.RWMutex
	ln net.Listener
}

// New creates a server. It does not listen until Start.
func New(opts Options) (*Server, error) {
	if opts.Recorder == nil {
		return nil, errors.New("server: recorder is required")
	}
	logger := log.WithComponent(log.OrDiscard(opts.Logger), "server")

	s := &Server{
		cfg:     opts.Config,
		rec:     opts.Recorder,
		logger:  logger,
		version: opts.Version,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	auth := newAuthenticator(opts.Config.APIKeys, opts.Config.ProjectID, logger)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Gatherer != nil {
		root.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	root.Handle("/v1/", auth.wrap(mux))

	s.server = &http.Server{
		Handler:           log.Middleware(logger)(root),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until ctx is
// cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("API server starting",
		slog.String("listen_addr", ln.Addr().String()),
		slog.Bool("auth", len(s.cfg.APIKeys) > 0),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down")
	s.server.SetKeepAlivesEnabled(false)
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("API server shutdown error", log.Error(err))
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

// Addr returns the listener address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
