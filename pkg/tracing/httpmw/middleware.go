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

// Package httpmw opens a root span for each inbound HTTP request.
package httpmw

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/pkg/observability"
	"github.com/tombee/tracelight/pkg/tracing/redact"
)

const (
	// DefaultSessionHeader carries the caller's session id.
	DefaultSessionHeader = "x-session-id"

	// TraceHeader echoes the request's span id and, inbound, names the
	// caller's span as parent.
	TraceHeader = "x-trace-id"
)

// Options configures the middleware.
type Options struct {
	// Recorder receives the spans. Required.
	Recorder observability.Recorder

	// SessionHeader names the request header holding the session id.
	// Defaults to DefaultSessionHeader.
	SessionHeader string

	// Detailed adds redacted headers, client IP and user agent to span
	// metadata.
	Detailed bool

	// Redactor sanitizes query strings and headers. Nil selects standard
	// redaction.
	Redactor *redact.Redactor

	// TrustedProxies are the peer addresses whose X-Forwarded-For header is
	// believed when Detailed is on.
	TrustedProxies []string

	// Skip excludes requests from tracing, e.g. health checks.
	Skip func(*http.Request) bool

	// Timeout bounds each tracing call so a slow recorder cannot hold the
	// request. Zero means no extra bound.
	Timeout time.Duration

	Logger *slog.Logger
}

// Middleware wraps handlers so that each request is recorded as an http
// span. Tracing failures are logged and never change the response.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.SessionHeader == "" {
		opts.SessionHeader = DefaultSessionHeader
	}
	if opts.Redactor == nil {
		opts.Redactor = redact.NewRedactor(redact.ModeStandard, nil)
	}
	logger := log.WithComponent(log.OrDiscard(opts.Logger), "httpmw")

	return func(next http.Handler) http.Handler {
		if opts.Recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			t := &requestTrace{opts: &opts, logger: logger, start: time.Now()}
			ref, ok := t.open(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set(TraceHeader, ref.TraceID)
			w.Header().Set(opts.SessionHeader, ref.SessionID)
			rec := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(observability.ContextWithSpan(r.Context(), ref))

			defer func() {
				if p := recover(); p != nil {
					t.end(r.Context(), ref, http.StatusInternalServerError, &observability.SpanError{
						Message: fmt.Sprint(p),
						Stack:   string(debug.Stack()),
					})
					panic(p)
				}
				t.end(r.Context(), ref, rec.statusCode, nil)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// requestTrace holds per-request tracing state.
type requestTrace struct {
	opts   *Options
	logger *slog.Logger
	start  time.Time
}

func (t *requestTrace) open(r *http.Request) (observability.SpanRef, bool) {
	req := observability.StartSpanRequest{
		SessionID: strings.TrimSpace(r.Header.Get(t.opts.SessionHeader)),
		Name:      r.Method + " " + r.URL.Path,
		Type:      observability.SpanTypeHTTP,
		Metadata:  t.metadata(r),
	}
	if parent, ok := observability.SpanFromContext(r.Context()); ok {
		req.ParentID = parent.TraceID
		if req.SessionID == "" {
			req.SessionID = parent.SessionID
		}
	} else if id := strings.TrimSpace(r.Header.Get(TraceHeader)); id != "" {
		req.ParentID = id
	}

	ctx, cancel := t.callContext(r.Context())
	defer cancel()
	ref, err := t.opts.Recorder.StartSpan(ctx, req)
	if err != nil || ref.IsZero() {
		t.logger.Warn("failed to start request span",
			"method", r.Method,
			"path", r.URL.Path,
			log.Error(err),
		)
		return observability.SpanRef{}, false
	}
	return ref, true
}

// end closes the span exactly once per request.
func (t *requestTrace) end(ctx context.Context, ref observability.SpanRef, status int, spanErr *observability.SpanError) {
	req := observability.EndSpanRequest{
		Status: observability.SpanStatusOK,
		Metadata: map[string]any{
			"status_code": status,
			"duration_ms": time.Since(t.start).Milliseconds(),
		},
	}
	if spanErr != nil || status >= 400 {
		req.Status = observability.SpanStatusError
		if spanErr == nil {
			spanErr = &observability.SpanError{Message: fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))}
		}
		req.Error = spanErr
	}

	// The request context may already be canceled by a disconnecting
	// client; the span still needs closing.
	ctx, cancel := t.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := t.opts.Recorder.EndSpan(ctx, ref.TraceID, req); err != nil {
		log.WithSession(t.logger, ref.SessionID, ref.TraceID).Warn("failed to end request span", log.Error(err))
	}
}

func (t *requestTrace) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.opts.Timeout > 0 {
		return context.WithTimeout(ctx, t.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (t *requestTrace) metadata(r *http.Request) map[string]any {
	md := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  t.opts.Redactor.RedactString(r.URL.RawQuery),
	}
	if !t.opts.Detailed {
		return md
	}

	headers := make(map[string]any, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	md["headers"] = t.opts.Redactor.RedactMap(headers)
	md["ip"] = clientIP(r, t.opts.TrustedProxies)
	md["user_agent"] = r.UserAgent()
	return md
}

// clientIP returns the peer address, or the first X-Forwarded-For entry
// when the peer is a trusted proxy.
func clientIP(r *http.Request, trustedProxies []string) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	for _, proxy := range trustedProxies {
		if proxy != remote {
			continue
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
		break
	}
	return remote
}

// responseWriter captures the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer when it supports streaming.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		rw.wroteHeader = true
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
