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

package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tracelight/pkg/observability"
)

// fixture builds a small session tree with one terminated child span.
func fixture(t *testing.T) *Snapshot {
	t.Helper()

	start := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	dur := int64(1500)
	redacted := "my password: [REDACTED]"

	session := &observability.Session{
		ID:                "sess-1",
		UserID:            "user-7",
		Label:             "checkout",
		Status:            observability.SessionStatusActive,
		TotalSpans:        2,
		TotalCostUSD:      0.002,
		TotalInputTokens:  10,
		TotalOutputTokens: 20,
		StartedAt:         start,
	}
	root := &observability.Span{
		ID:        "span-a",
		SessionID: "sess-1",
		Name:      "GET /checkout",
		Type:      observability.SpanTypeHTTP,
		Status:    observability.SpanStatusPending,
		Metadata:  map[string]any{"method": "GET"},
		StartedAt: start,
	}
	child := &observability.Span{
		ID:          "span-b",
		ParentID:    "span-a",
		SessionID:   "sess-1",
		Name:        "llm gpt-4o",
		Type:        observability.SpanTypeLLM,
		Status:      observability.SpanStatusOK,
		Model:       "gpt-4o",
		Tokens:      &observability.TokenUsage{Input: 10, Output: 20},
		CostUSD:     observability.Float64(0.002),
		ResourceIDs: []string{"doc-1"},
		StartedAt:   start.Add(time.Millisecond),
		EndedAt:     &end,
		DurationMS:  &dur,
		Depth:       1,
	}
	messages := []*observability.Message{
		{
			SessionID:       "sess-1",
			SpanID:          "span-b",
			Role:            observability.MessageRoleUser,
			Content:         `my password: "abc123"`,
			RedactedContent: &redacted,
			IsRedacted:      true,
			CreatedAt:       start.Add(2 * time.Millisecond),
		},
		{
			SessionID: "sess-1",
			SpanID:    "span-b",
			Role:      observability.MessageRoleAssistant,
			Content:   "done",
			CreatedAt: start.Add(3 * time.Millisecond),
		},
	}

	snap := NewSnapshot()
	snap.Sessions = []*observability.Session{session}
	snap.Spans = []*observability.Span{root, child}
	snap.Messages["sess-1"] = messages
	return snap
}

// saveAll writes a snapshot through a backend's write-through methods.
func saveAll(t *testing.T, b Backend, snap *Snapshot) {
	t.Helper()
	ctx := context.Background()
	for _, s := range snap.Sessions {
		require.NoError(t, b.SaveSession(ctx, s))
	}
	for _, s := range snap.Spans {
		require.NoError(t, b.SaveSpan(ctx, s))
	}
	for id, msgs := range snap.Messages {
		require.NoError(t, b.SaveMessages(ctx, id, msgs))
	}
}

func assertSameJSON(t *testing.T, want, got any) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func TestDurable_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := fixture(t)

	d, err := NewDurable(dir, nil)
	require.NoError(t, err)
	saveAll(t, d, want)
	require.NoError(t, d.Close(context.Background()))

	reopened, err := NewDurable(dir, nil)
	require.NoError(t, err)
	got, err := reopened.Load(context.Background())
	require.NoError(t, err)

	assertSameJSON(t, want, got)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, want.Sessions[0].StartedAt.UnixMilli(), got.Sessions[0].StartedAt.UnixMilli())
	require.Len(t, got.Spans, 2)
	assert.True(t, want.Spans[1].EndedAt.Equal(*got.Spans[1].EndedAt))
}

func TestDurable_Layout(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir, nil)
	require.NoError(t, err)
	saveAll(t, d, fixture(t))

	for _, rel := range []string{
		"sessions/sess-1.json",
		"traces/span-a.json",
		"traces/span-b.json",
		"messages/sess-1.json",
	} {
		_, err := os.Stat(filepath.Join(dir, rel))
		assert.NoError(t, err, rel)
	}

	data, err := os.ReadFile(filepath.Join(dir, "messages", "sess-1.json"))
	require.NoError(t, err)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(data, &msgs), "messages file is a bare array")
	assert.Len(t, msgs, 2)
}

func TestDurable_SaveMessagesRewritesWholeList(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	snap := fixture(t)
	msgs := snap.Messages["sess-1"]
	require.NoError(t, d.SaveSession(ctx, snap.Sessions[0]))
	require.NoError(t, d.SaveMessages(ctx, "sess-1", msgs[:1]))
	require.NoError(t, d.SaveMessages(ctx, "sess-1", msgs))

	got, err := d.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Messages["sess-1"], 2)
}

func TestDurable_DeleteSession(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()
	saveAll(t, d, fixture(t))

	require.NoError(t, d.DeleteSession(ctx, "sess-1", []string{"span-a", "span-b"}))
	// Deleting again is not an error.
	require.NoError(t, d.DeleteSession(ctx, "sess-1", []string{"span-a", "span-b"}))

	got, err := d.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Sessions)
	assert.Empty(t, got.Spans)
	assert.Empty(t, got.Messages)
}

func TestDurable_UnsafeIDs(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	sess := &observability.Session{ID: "../escape/me", Status: observability.SessionStatusActive, StartedAt: time.Now().UTC()}
	require.NoError(t, d.SaveSession(ctx, sess))

	entries, err := os.ReadDir(filepath.Join(dir, SessionsDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := d.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "../escape/me", got.Sessions[0].ID)

	assert.Error(t, d.SaveSession(ctx, &observability.Session{}))
}

func TestDurable_LoadPropagatesDecodeErrors(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, TracesDir, "bad.json"), []byte("{not json"), 0o644))

	_, err = d.Load(context.Background())
	assert.Error(t, err)
}

func TestDurable_IgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, TracesDir, ".tmp-123"), []byte("partial"), 0o644))

	got, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Spans)
}

func TestNewDurable_RequiresPath(t *testing.T) {
	_, err := NewDurable("", nil)
	assert.Error(t, err)
}
