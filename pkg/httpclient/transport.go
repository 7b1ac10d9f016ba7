package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/pkg/observability"
)

// Headers carrying the enclosing span across a hop.
const (
	TraceIDHeader   = "X-Trace-ID"
	SessionIDHeader = "X-Session-ID"
)

// loggingTransport sets User-Agent, forwards span ids from the request
// context and logs the outcome.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{
		base:      base,
		userAgent: userAgent,
		logger:    log.OrDiscard(logger),
	}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if ref, ok := observability.SpanFromContext(req.Context()); ok {
		if req.Header.Get(TraceIDHeader) == "" && ref.TraceID != "" {
			req.Header.Set(TraceIDHeader, ref.TraceID)
		}
		if req.Header.Get(SessionIDHeader) == "" && ref.SessionID != "" {
			req.Header.Set(SessionIDHeader, ref.SessionID)
		}
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()
	logURL := sanitizeURL(req.URL)

	if err != nil {
		t.logger.Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			log.DurationKey, duration,
			log.Error(err),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "http request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		log.DurationKey, duration,
	)
	return resp, nil
}
