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

package httpmw

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tracelight/pkg/observability"
	"github.com/tombee/tracelight/pkg/tracing/recorder"
)

// fakeRecorder records calls and optionally fails them.
type fakeRecorder struct {
	observability.Recorder

	mu       sync.Mutex
	starts   []observability.StartSpanRequest
	ends     map[string][]observability.EndSpanRequest
	startErr error
	endErr   error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ends: make(map[string][]observability.EndSpanRequest)}
}

func (f *fakeRecorder) StartSpan(_ context.Context, req observability.StartSpanRequest) (observability.SpanRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return observability.SpanRef{}, f.startErr
	}
	sid := req.SessionID
	if sid == "" {
		sid = "generated-session"
	}
	return observability.SpanRef{TraceID: "trace-1", SessionID: sid}, nil
}

func (f *fakeRecorder) EndSpan(_ context.Context, traceID string, req observability.EndSpanRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends[traceID] = append(f.ends[traceID], req)
	return f.endErr
}

func newService(t *testing.T) *recorder.Service {
	t.Helper()
	svc, err := recorder.New(context.Background(), recorder.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestMiddleware_RecordsRequestSpan(t *testing.T) {
	svc := newService(t)
	var inner observability.SpanRef
	handler := Middleware(Options{Recorder: svc})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner, _ = observability.SpanFromContext(r.Context())
		_, _ = io.WriteString(w, "ok")
	}))

	req := httptest.NewRequest(http.MethodGet, "/chat?q=hello", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	require.NotEmpty(t, inner.TraceID)
	assert.Equal(t, inner.TraceID, rec.Header().Get(TraceHeader))
	assert.Equal(t, inner.SessionID, rec.Header().Get(DefaultSessionHeader))

	span, err := svc.Store().Span(inner.TraceID)
	require.NoError(t, err)
	assert.Equal(t, "GET /chat", span.Name)
	assert.Equal(t, observability.SpanTypeHTTP, span.Type)
	assert.Equal(t, observability.SpanStatusOK, span.Status)
	assert.Equal(t, "GET", span.Metadata["method"])
	assert.Equal(t, "/chat", span.Metadata["path"])
	assert.Equal(t, "q=hello", span.Metadata["query"])
	assert.EqualValues(t, 200, span.Metadata["status_code"])
	assert.NotContains(t, span.Metadata, "headers")
}

func TestMiddleware_SessionHeader(t *testing.T) {
	svc := newService(t)
	handler := Middleware(Options{Recorder: svc, SessionHeader: "x-conversation"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/turn", nil)
		req.Header.Set("X-Conversation", "conv-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "conv-42", rec.Header().Get("x-conversation"))
	}

	details, err := svc.GetSessionDetails(context.Background(), "conv-42")
	require.NoError(t, err)
	assert.Equal(t, 2, details.TotalSpans)
}

func TestMiddleware_ErrorStatusEndsWithError(t *testing.T) {
	svc := newService(t)
	var ref observability.SpanRef
	handler := Middleware(Options{Recorder: svc})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref, _ = observability.SpanFromContext(r.Context())
		http.Error(w, "nope", http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	span, err := svc.Store().Span(ref.TraceID)
	require.NoError(t, err)
	assert.Equal(t, observability.SpanStatusError, span.Status)
	assert.EqualValues(t, 404, span.Metadata["status_code"])
	require.NotNil(t, span.Error)
	assert.Contains(t, span.Error.Message, "404")

	details, err := svc.GetSessionDetails(context.Background(), ref.SessionID)
	require.NoError(t, err)
	assert.Equal(t, observability.SessionStatusError, details.Status)
}

func TestMiddleware_PanicEndsSpanAndRepanics(t *testing.T) {
	rec := newFakeRecorder()
	handler := Middleware(Options{Recorder: rec})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	func() {
		defer func() {
			p := recover()
			assert.Equal(t, "handler exploded", p)
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	}()

	ends := rec.ends["trace-1"]
	require.Len(t, ends, 1)
	assert.Equal(t, observability.SpanStatusError, ends[0].Status)
	assert.Equal(t, http.StatusInternalServerError, ends[0].Metadata["status_code"])
	require.NotNil(t, ends[0].Error)
	assert.Equal(t, "handler exploded", ends[0].Error.Message)
	assert.NotEmpty(t, ends[0].Error.Stack)
}

func TestMiddleware_EndsExactlyOnce(t *testing.T) {
	rec := newFakeRecorder()
	handler := Middleware(Options{Recorder: rec})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("a"))
		_, _ = w.Write([]byte("b"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream", nil))

	ends := rec.ends["trace-1"]
	require.Len(t, ends, 1)
	assert.Equal(t, observability.SpanStatusOK, ends[0].Status)
	assert.Equal(t, http.StatusAccepted, ends[0].Metadata["status_code"])
}

func TestMiddleware_TracingFailuresDoNotAffectResponse(t *testing.T) {
	tests := []struct {
		name     string
		startErr error
		endErr   error
	}{
		{"start fails", errors.New("recorder down"), nil},
		{"end fails", nil, errors.New("disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newFakeRecorder()
			rec.startErr = tt.startErr
			rec.endErr = tt.endErr

			called := false
			handler := Middleware(Options{Recorder: rec})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, "created")
			}))

			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/items", nil))

			assert.True(t, called)
			assert.Equal(t, http.StatusCreated, resp.Code)
			assert.Equal(t, "created", resp.Body.String())
			if tt.startErr != nil {
				assert.Empty(t, resp.Header().Get(TraceHeader))
				assert.Empty(t, rec.ends)
			}
		})
	}
}

func TestMiddleware_DetailedMetadata(t *testing.T) {
	rec := newFakeRecorder()
	handler := Middleware(Options{
		Recorder:       rec,
		Detailed:       true,
		TrustedProxies: []string{"10.0.0.1"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/search?api_key=sk-123456&q=go", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("Authorization", "Bearer abcdefghijkl")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "tests/1.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, rec.starts, 1)
	md := rec.starts[0].Metadata
	assert.Equal(t, "203.0.113.9", md["ip"])
	assert.Equal(t, "tests/1.0", md["user_agent"])
	assert.NotContains(t, md["query"], "sk-123456")

	headers, ok := md["headers"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, headers["authorization"], "abcdefghijkl")
}

func TestMiddleware_ParentFromHeaderAndContext(t *testing.T) {
	rec := newFakeRecorder()
	mw := Middleware(Options{Recorder: rec})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set(TraceHeader, "upstream-span")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	parentCtx := observability.ContextWithSpan(context.Background(), observability.SpanRef{TraceID: "outer", SessionID: "outer-session"})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/b", nil).WithContext(parentCtx))

	require.Len(t, rec.starts, 2)
	assert.Equal(t, "upstream-span", rec.starts[0].ParentID)
	assert.Equal(t, "outer", rec.starts[1].ParentID)
	assert.Equal(t, "outer-session", rec.starts[1].SessionID)
}

func TestMiddleware_Skip(t *testing.T) {
	rec := newFakeRecorder()
	handler := Middleware(Options{
		Recorder: rec,
		Skip:     func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, "/healthz") },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, rec.starts)
}

func TestMiddleware_NilRecorderIsPassthrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	Middleware(Options{})(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		xff     string
		trusted []string
		want    string
	}{
		{"direct", "192.0.2.1:1234", "", nil, "192.0.2.1"},
		{"untrusted forwarded", "192.0.2.1:1234", "203.0.113.5", nil, "192.0.2.1"},
		{"trusted forwarded", "10.0.0.1:80", "203.0.113.5, 10.0.0.1", []string{"10.0.0.1"}, "203.0.113.5"},
		{"ipv6", "[::1]:8080", "", nil, "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trusted))
		})
	}
}
