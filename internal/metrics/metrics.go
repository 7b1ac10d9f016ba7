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

// Package metrics exposes Prometheus collectors for the recorder.
package metrics

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the recorder's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	spansStarted       *prometheus.CounterVec
	spansEnded         *prometheus.CounterVec
	sessionsEvicted    prometheus.Counter
	persistenceErrors  *prometheus.CounterVec
	snapshotQueueBytes prometheus.Gauge
	messagesRedacted   prometheus.Counter

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec
	llmCost     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		spansStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelight_spans_started_total",
				Help: "Total spans started by span type",
			},
			[]string{"type"},
		),
		spansEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelight_spans_ended_total",
				Help: "Total spans ended by span type and final status",
			},
			[]string{"type", "status"},
		),
		sessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracelight_sessions_evicted_total",
			Help: "Total sessions evicted to stay within the resident session bound",
		}),
		persistenceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelight_persistence_errors_total",
				Help: "Total persistence operation errors by operation and error type",
			},
			[]string{"operation", "error_type"},
		),
		snapshotQueueBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tracelight_snapshot_queue_bytes",
			Help: "Bytes waiting in the snapshot write queue",
		}),
		messagesRedacted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracelight_messages_redacted_total",
			Help: "Total recorded messages whose content was changed by redaction",
		}),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelight_llm_requests_total",
				Help: "Total traced LLM requests by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracelight_llm_request_duration_seconds",
				Help:    "Latency of traced LLM requests",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelight_llm_tokens_total",
				Help: "Total tokens reported by traced LLM requests",
			},
			[]string{"provider", "model", "direction"},
		),
		llmCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelight_llm_cost_usd_total",
				Help: "Total cost in USD attributed to traced LLM requests",
			},
			[]string{"provider", "model"},
		),
	}
}

// SpanStarted increments the started span counter.
func (m *Metrics) SpanStarted(spanType string) {
	if m == nil {
		return
	}
	m.spansStarted.WithLabelValues(spanType).Inc()
}

// SpanEnded increments the ended span counter.
func (m *Metrics) SpanEnded(spanType, status string) {
	if m == nil {
		return
	}
	m.spansEnded.WithLabelValues(spanType, status).Inc()
}

// SessionEvicted increments the eviction counter.
func (m *Metrics) SessionEvicted() {
	if m == nil {
		return
	}
	m.sessionsEvicted.Inc()
}

// MessageRedacted increments the redacted message counter.
func (m *Metrics) MessageRedacted() {
	if m == nil {
		return
	}
	m.messagesRedacted.Inc()
}

// SetSnapshotQueueBytes reports the current size of the snapshot write queue.
func (m *Metrics) SetSnapshotQueueBytes(n int64) {
	if m == nil {
		return
	}
	m.snapshotQueueBytes.Set(float64(n))
}

// RecordLLMRequest records the outcome of one traced LLM call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, inputTokens, outputTokens int64, costUSD float64, latency time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(provider, model, status).Inc()
	m.llmLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		m.llmCost.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordPersistenceError increments the persistence error counter.
// operation is the backend call that failed (e.g., "save_span", "snapshot").
func (m *Metrics) RecordPersistenceError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.persistenceErrors.WithLabelValues(operation, ErrorType(err)).Inc()
}

// ErrorType derives a low-cardinality label from err.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, fs.ErrPermission):
		return "permission_denied"
	case errors.Is(err, fs.ErrNotExist):
		return "not_found"
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return "io_error"
	}
	return "unknown"
}
