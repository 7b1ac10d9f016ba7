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


package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tracelight/internal/commands/pricing"
	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/internal/config"
	"github.com/tombee/tracelight/internal/server"
	"github.com/tombee/tracelight/pkg/observability"
	"github.com/tombee/tracelight/pkg/tracing/persist"
	"github.com/tombee/tracelight/pkg/tracing/recorder"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "tracelight", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	for _, name := range []string{"serve", "sessions", "pricing", "store", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"verbose", "json", "config", "store", "remote"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s not registered", name)
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2025-12-22")
	defer SetVersion("dev", "unknown", "unknown")

	v, c, b := GetVersion()
	assert.Equal(t, "1.2.3", v)
	assert.Equal(t, "abc123", c)
	assert.Equal(t, "2025-12-22", b)
}

// isolateEnv clears the environment overrides that would redirect the CLI
// away from the store under test.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, key := range []string{
		"TRACELIGHT_STORE_MODE", "TRACELIGHT_STORE_PATH", "TRACELIGHT_REMOTE_URL",
		"TRACELIGHT_API_KEY", "TRACELIGHT_PROJECT_ID", "TRACELIGHT_PRICING_PATH",
		"TRACELIGHT_REDACTION_MODE", "TRACELIGHT_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type seeded struct {
	dir       string
	sessionID string
}

// seedStore records one completed session with a nested LLM span into a
// durable store.
func seedStore(t *testing.T) seeded {
	t.Helper()
	isolateEnv(t)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Mode = persist.ModeDurable
	cfg.Store.Path = dir

	ctx := context.Background()
	svc, err := recorder.Open(ctx, cfg, nil, nil)
	require.NoError(t, err)

	session := recordSession(t, svc)
	require.NoError(t, svc.Close(ctx))

	return seeded{dir: dir, sessionID: session}
}

func recordSession(t *testing.T, svc *recorder.Service) string {
	t.Helper()
	ctx := context.Background()

	session, err := svc.StartSession(ctx, observability.SessionOptions{UserID: "u-1", Label: "support chat"})
	require.NoError(t, err)

	root, err := svc.StartSpan(ctx, observability.StartSpanRequest{
		SessionID: session.ID,
		Name:      "handle request",
		Type:      observability.SpanTypeHTTP,
	})
	require.NoError(t, err)

	child, err := svc.StartSpan(ctx, observability.StartSpanRequest{
		SessionID: session.ID,
		ParentID:  root.TraceID,
		Name:      "llm gpt-4o",
		Type:      observability.SpanTypeLLM,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RecordMessage(ctx, observability.RecordMessageRequest{
		SessionID: session.ID,
		TraceID:   child.TraceID,
		Role:      observability.MessageRoleUser,
		Content:   "Contact user@example.com for support",
	}))

	require.NoError(t, svc.EndSpan(ctx, child.TraceID, observability.EndSpanRequest{
		Status:  observability.SpanStatusOK,
		Model:   "gpt-4o",
		Tokens:  &observability.TokenUsage{Input: 100, Output: 20},
		CostUSD: observability.Float64(0.01),
	}))
	require.NoError(t, svc.EndSpan(ctx, root.TraceID, observability.EndSpanRequest{Status: observability.SpanStatusOK}))
	require.NoError(t, svc.EndSession(ctx, session.ID))

	return session.ID
}

func TestSessionsListFromStore(t *testing.T) {
	s := seedStore(t)

	out, err := execute(t, "--store", s.dir, "sessions", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, s.sessionID[:12])
	assert.Contains(t, out, "support chat")
	assert.Contains(t, out, "u-1")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "100/20")
	assert.Contains(t, out, "page 1 of 1 (1 sessions)")
}

func TestSessionsListLeavesServerSnapshot(t *testing.T) {
	isolateEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  mode: ephemeral\n  path: "+dir+"\n"), 0o644))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	ctx := context.Background()
	svc, err := recorder.Open(ctx, cfg, nil, nil)
	require.NoError(t, err)
	sessionID := recordSession(t, svc)
	require.NoError(t, svc.Close(ctx))

	snapshotFiles := func() int {
		entries, err := os.ReadDir(filepath.Join(dir, persist.SessionsDir))
		require.NoError(t, err)
		return len(entries)
	}
	require.Equal(t, 1, snapshotFiles())

	out, err := execute(t, "--config", configPath, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, sessionID[:12])

	_, err = execute(t, "--config", configPath, "sessions", "summary")
	require.NoError(t, err)

	assert.Equal(t, 1, snapshotFiles())
}

func TestSessionsListFilters(t *testing.T) {
	s := seedStore(t)

	out, err := execute(t, "--store", s.dir, "sessions", "list", "--user", "someone-else")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")

	out, err = execute(t, "--store", s.dir, "sessions", "list", "--label", "support", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "support chat")
}

func TestSessionsListJSON(t *testing.T) {
	s := seedStore(t)

	out, err := execute(t, "--store", s.dir, "--json", "sessions", "list")
	require.NoError(t, err)

	var resp struct {
		Command string                    `json:"command"`
		Success bool                      `json:"success"`
		Data    observability.SessionPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "sessions list", resp.Command)
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Sessions, 1)

	got := resp.Data.Sessions[0]
	assert.Equal(t, s.sessionID, got.ID)
	assert.Equal(t, 2, got.TotalSpans)
	assert.Equal(t, int64(100), got.TotalInputTokens)
	assert.Equal(t, int64(20), got.TotalOutputTokens)
	assert.InDelta(t, 0.01, got.TotalCostUSD, 1e-9)
	assert.Equal(t, observability.SessionStatusCompleted, got.Status)
}

func TestSessionsShow(t *testing.T) {
	s := seedStore(t)

	out, err := execute(t, "--store", s.dir, "sessions", "show", s.sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "Session "+s.sessionID)
	assert.Contains(t, out, "support chat")
	assert.Contains(t, out, "[REDACTED_EMAIL]")
	assert.Contains(t, out, "(redacted)")
	assert.NotContains(t, out, "user@example.com")

	out, err = execute(t, "--store", s.dir, "sessions", "show", "--raw", s.sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "user@example.com")
}

func TestSessionsShowSpanFilter(t *testing.T) {
	s := seedStore(t)

	out, err := execute(t, "--store", s.dir, "sessions", "show", "--span", "other-span", s.sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "No messages recorded.")
	assert.NotContains(t, out, "[REDACTED_EMAIL]")

	out, err = execute(t, "--store", s.dir, "sessions", "show", "--span", "", s.sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "No messages recorded.")
}

func TestSessionsShowNotFound(t *testing.T) {
	s := seedStore(t)

	_, err := execute(t, "--store", s.dir, "sessions", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestSessionsGraph(t *testing.T) {
	s := seedStore(t)

	out, err := execute(t, "--store", s.dir, "sessions", "graph", s.sessionID)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "handle request")
	assert.False(t, strings.HasPrefix(lines[0], " "))
	assert.Contains(t, lines[1], "llm gpt-4o")
	assert.True(t, strings.HasPrefix(lines[1], "  "))
	assert.Contains(t, lines[1], "100/20 tokens")
	assert.Contains(t, lines[1], "$0.0100")
}

func TestSessionsSummaryJSON(t *testing.T) {
	s := seedStore(t)

	out, err := execute(t, "--store", s.dir, "--json", "sessions", "summary")
	require.NoError(t, err)

	var resp struct {
		Data observability.SessionsSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.TotalSessions)
	assert.Equal(t, 0, resp.Data.ActiveSessions)
	assert.InDelta(t, 0.01, resp.Data.TotalCostUSD, 1e-9)
	assert.Zero(t, resp.Data.ErrorRate)
}

func TestInvalidTimeFlags(t *testing.T) {
	s := seedStore(t)

	_, err := execute(t, "--store", s.dir, "sessions", "list", "--since=-1h")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCode(err))

	_, err = execute(t, "--store", s.dir, "sessions", "summary", "--from", "yesterday")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCode(err))
}

func TestSessionsAgainstRemote(t *testing.T) {
	isolateEnv(t)
	ctx := context.Background()

	svc, err := recorder.New(ctx, recorder.Options{})
	require.NoError(t, err)
	sessionID := recordSession(t, svc)

	srv, err := server.New(server.Options{
		Config:   config.ServerConfig{APIKeys: []string{"secret"}, ProjectID: "proj"},
		Recorder: svc,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Setenv("TRACELIGHT_API_KEY", "secret")
	t.Setenv("TRACELIGHT_PROJECT_ID", "proj")

	out, err := execute(t, "--remote", ts.URL, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, sessionID[:12])

	_, err = execute(t, "--remote", ts.URL, "sessions", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))

	t.Setenv("TRACELIGHT_API_KEY", "")
	_, err = execute(t, "--remote", ts.URL, "sessions", "list")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCode(err))
}

func TestPricingList(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "pricing", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "gpt-4o")
	assert.Contains(t, out, "claude-sonnet-4")
	assert.Contains(t, out, "subscription")

	out, err = execute(t, "pricing", "list", "--provider", "openai")
	require.NoError(t, err)
	assert.Contains(t, out, "gpt-4o")
	assert.NotContains(t, out, "claude")
}

func TestPricingCost(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "pricing", "cost", "gpt-4o", "--input", "1000000", "--output", "1000000")
	require.NoError(t, err)
	assert.Contains(t, out, "openai:gpt-4o $12.5000")

	out, err = execute(t, "--json", "pricing", "cost", "openai:gpt-4o-2024-08-06", "--input", "2000000")
	require.NoError(t, err)
	var resp struct {
		Data pricing.CostEstimate `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "gpt-4o", resp.Data.Model)
	assert.InDelta(t, 5.0, resp.Data.CostUSD, 1e-9)

	_, err = execute(t, "pricing", "cost", "no-such-model")
	require.Error(t, err)
}

func TestStoreKeygen(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "store", "keygen")
	require.NoError(t, err)

	name, value, ok := strings.Cut(strings.TrimSpace(out), "=")
	require.True(t, ok, out)
	assert.Equal(t, persist.KeyEnvVar, name)

	key, err := persist.ParseEncryptionKey(value)
	require.NoError(t, err)
	assert.Equal(t, value, key.String())
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a running
// server's logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// listenAddr finds the address logged when the API server starts.
func listenAddr(logs string) string {
	sc := bufio.NewScanner(strings.NewReader(logs))
	for sc.Scan() {
		var entry struct {
			Msg  string `json:"msg"`
			Addr string `json:"listen_addr"`
		}
		if json.Unmarshal(sc.Bytes(), &entry) == nil && entry.Msg == "API server starting" {
			return entry.Addr
		}
	}
	return ""
}

func TestServeStartsAndStops(t *testing.T) {
	isolateEnv(t)
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	cmd := NewRootCommand()
	var out bytes.Buffer
	logs := &syncBuffer{}
	cmd.SetOut(&out)
	cmd.SetErr(logs)
	cmd.SetArgs([]string{"--store", t.TempDir(), "serve", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		addr = listenAddr(logs.String())
		return addr != ""
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, logs.String(), "shutdown complete")
}
