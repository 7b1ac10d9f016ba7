// Package httpclient builds the HTTP clients tracelight uses to talk to a
// hosted trace service.
//
// Clients are composed from two transport layers over a pooled
// http.Transport:
//   - a logging layer that sets User-Agent, forwards the enclosing span's
//     trace and session ids, and logs each request with a sanitized URL
//   - an optional retry layer with exponential backoff and jitter
//
// # Usage
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//	cfg.Logger = logger
//	client, err := httpclient.New(cfg)
//
// # Retry Behavior
//
// Transient failures are retried with exponential backoff:
//   - HTTP 5xx, 408 and 429 (Retry-After is honoured when shorter than the
//     computed delay)
//   - network timeouts and connection refused/reset errors
//   - only GET, HEAD and OPTIONS unless AllowNonIdempotentRetry is set
//
// Span writes are POSTs and are never retried by default, so a slow
// service cannot cause a span to be opened twice.
//
// # Security
//
// Query parameters whose names look sensitive are replaced with
// [REDACTED] before logging. Headers are never logged.
package httpclient
