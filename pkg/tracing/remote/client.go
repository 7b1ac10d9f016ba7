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

// Package remote implements observability.Recorder against a hosted trace
// service.
//
// Writes fail open: StartSpan always returns a usable reference, falling
// back to a locally generated one when the service cannot be reached, and
// EndSpan, RecordMessage and EndSession log failures instead of returning
// them. Queries fail closed and return typed errors from pkg/errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/tracelight/internal/log"
	tlerrors "github.com/tombee/tracelight/pkg/errors"
	"github.com/tombee/tracelight/pkg/httpclient"
	"github.com/tombee/tracelight/pkg/observability"
)

var _ observability.Recorder = (*Client)(nil)

const (
	// DefaultTimeout bounds each remote call.
	DefaultTimeout = 5 * time.Second

	// LocalIDPrefix marks ids synthesized when the service was unreachable.
	LocalIDPrefix = "local-"

	// ProjectHeader carries the project id on every request.
	ProjectHeader = "X-Project-ID"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the service endpoint, e.g. https://traces.example.com.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// ProjectID is sent in the X-Project-ID header.
	ProjectID string

	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the client built from pkg/httpclient.
	HTTPClient *http.Client

	// UserAgent defaults to "tracelight-go".
	UserAgent string

	Logger *slog.Logger
}

// Client forwards recorder operations to a hosted service.
type Client struct {
	baseURL   string
	apiKey    string
	projectID string
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger

	// warnLimit throttles fail-open warnings so an outage does not flood
	// the host's logs; suppressed counts the warnings dropped since the
	// last one logged.
	warnLimit  *rate.Limiter
	suppressed atomic.Int64
}

// New validates cfg and creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &tlerrors.ValidationError{
			Field:      "base_url",
			Message:    "remote base URL is required",
			Suggestion: "set remote.base_url or TRACELIGHT_REMOTE_URL",
		}
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, &tlerrors.ValidationError{Field: "base_url", Message: fmt.Sprintf("invalid URL %q", cfg.BaseURL)}
	}
	if cfg.APIKey == "" {
		return nil, &tlerrors.ValidationError{
			Field:      "api_key",
			Message:    "remote API key is required",
			Suggestion: "set remote.api_key or TRACELIGHT_API_KEY",
		}
	}
	if cfg.ProjectID == "" {
		return nil, &tlerrors.ValidationError{
			Field:      "project_id",
			Message:    "remote project id is required",
			Suggestion: "set remote.project_id or TRACELIGHT_PROJECT_ID",
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := log.WithComponent(log.OrDiscard(cfg.Logger), "remote")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		hc := httpclient.DefaultConfig()
		hc.Timeout = timeout
		hc.RetryAttempts = 1
		hc.UserAgent = cfg.UserAgent
		if hc.UserAgent == "" {
			hc.UserAgent = "tracelight-go"
		}
		hc.Logger = cfg.Logger
		var err error
		if httpClient, err = httpclient.New(hc); err != nil {
			return nil, &tlerrors.ValidationError{Field: "http_client", Message: err.Error()}
		}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		timeout:   timeout,
		http:      httpClient,
		logger:    logger,
		warnLimit: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}, nil
}

// StartSpan opens a span on the service. It never fails: if the service is
// unreachable or rejects the call, a local reference is returned instead.
func (c *Client) StartSpan(ctx context.Context, req observability.StartSpanRequest) (observability.SpanRef, error) {
	var ref observability.SpanRef
	err := c.do(ctx, call{method: http.MethodPost, path: "/v1/spans", resource: "span"}, req, &ref)
	if err == nil && ref.TraceID != "" && ref.SessionID != "" {
		return ref, nil
	}
	if err == nil {
		err = fmt.Errorf("response missing trace or session id")
	}

	fallback := observability.SpanRef{
		TraceID:   LocalIDPrefix + uuid.NewString(),
		SessionID: req.SessionID,
	}
	if fallback.SessionID == "" {
		fallback.SessionID = LocalIDPrefix + uuid.NewString()
	}
	c.warn("start span failed, using local ids", err,
		log.TraceIDKey, fallback.TraceID,
		log.SessionIDKey, fallback.SessionID,
	)
	return fallback, nil
}

// EndSpan terminates a span on the service. Failures are logged, not
// returned.
func (c *Client) EndSpan(ctx context.Context, traceID string, req observability.EndSpanRequest) error {
	if IsLocalID(traceID) {
		log.Trace(c.logger, "skipping end for local span", slog.String(log.TraceIDKey, traceID))
		return nil
	}
	path := "/v1/spans/" + url.PathEscape(traceID) + "/end"
	if err := c.do(ctx, call{method: http.MethodPost, path: path, resource: "span", id: traceID}, req, nil); err != nil {
		c.warn("end span failed", err, log.TraceIDKey, traceID)
	}
	return nil
}

// RecordMessage records a message on the service. Failures are logged, not
// returned.
func (c *Client) RecordMessage(ctx context.Context, req observability.RecordMessageRequest) error {
	if IsLocalID(req.SessionID) || IsLocalID(req.TraceID) {
		log.Trace(c.logger, "skipping message for local span", slog.String(log.SessionIDKey, req.SessionID))
		return nil
	}
	if err := c.do(ctx, call{method: http.MethodPost, path: "/v1/messages", resource: "session", id: req.SessionID}, req, nil); err != nil {
		c.warn("record message failed", err, log.SessionIDKey, req.SessionID)
	}
	return nil
}

// EndSession ends a session on the service. Failures are logged, not
// returned.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	if IsLocalID(sessionID) {
		return nil
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/end"
	if err := c.do(ctx, call{method: http.MethodPost, path: path, resource: "session", id: sessionID}, struct{}{}, nil); err != nil {
		c.warn("end session failed", err, log.SessionIDKey, sessionID)
	}
	return nil
}

// StartSession creates a session on the service. Unlike StartSpan it
// returns errors, since the caller asked for a server-side record.
func (c *Client) StartSession(ctx context.Context, opts observability.SessionOptions) (*observability.Session, error) {
	var session observability.Session
	if err := c.do(ctx, call{method: http.MethodPost, path: "/v1/sessions", resource: "session", id: opts.ID}, opts, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSessionGraph fetches a session's span graph.
func (c *Client) GetSessionGraph(ctx context.Context, sessionID string) (*observability.Graph, error) {
	var g observability.Graph
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/graph"
	if err := c.do(ctx, call{method: http.MethodGet, path: path, resource: "session", id: sessionID}, nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetSessionDetails fetches a session and its messages.
func (c *Client) GetSessionDetails(ctx context.Context, sessionID string) (*observability.SessionDetails, error) {
	var d observability.SessionDetails
	path := "/v1/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, call{method: http.MethodGet, path: path, resource: "session", id: sessionID}, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListSessions fetches one page of sessions.
func (c *Client) ListSessions(ctx context.Context, filter observability.ListFilter) (*observability.SessionPage, error) {
	path := "/v1/sessions"
	if q := filter.Values().Encode(); q != "" {
		path += "?" + q
	}
	var page observability.SessionPage
	if err := c.do(ctx, call{method: http.MethodGet, path: path, resource: "sessions"}, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetSessionsSummary fetches aggregate session statistics.
func (c *Client) GetSessionsSummary(ctx context.Context, tr *observability.TimeRange) (*observability.SessionsSummary, error) {
	path := "/v1/sessions/summary"
	if q := tr.Values().Encode(); q != "" {
		path += "?" + q
	}
	var summary observability.SessionsSummary
	if err := c.do(ctx, call{method: http.MethodGet, path: path, resource: "sessions"}, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// IsLocalID reports whether id was synthesized by a fail-open StartSpan.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// call describes one request for error mapping.
type call struct {
	method   string
	path     string
	resource string
	id       string
}

func (c call) operation() string {
	path := c.path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return c.method + " " + path
}

// do issues one request under the per-call timeout and decodes the data
// envelope into dest.
func (c *Client) do(ctx context.Context, cl call, body any, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	var (
		req *http.Request
		err error
	)
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(ProjectHeader, c.projectID)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, cl, err)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Trace(c.logger, "remote call",
		slog.String("operation", cl.operation()),
		slog.Int("status", resp.StatusCode),
		slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
	)
	return c.handleResponse(cl, resp, dest)
}

// warn logs a swallowed failure, at most once per limiter interval.
func (c *Client) warn(msg string, err error, args ...any) {
	if !c.warnLimit.Allow() {
		c.suppressed.Add(1)
		return
	}
	args = append(args, log.Error(err))
	if n := c.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	c.logger.Warn(msg, args...)
}
