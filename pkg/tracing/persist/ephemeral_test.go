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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource serves a fixed snapshot that tests can swap.
type staticSource struct {
	mu   sync.Mutex
	snap *Snapshot
}

func (s *staticSource) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *staticSource) set(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func TestEphemeral_SaveIsNoOp(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEphemeral(EphemeralConfig{Dir: dir})
	require.NoError(t, err)
	saveAll(t, e, fixture(t))

	entries, err := os.ReadDir(filepath.Join(dir, SessionsDir))
	require.NoError(t, err)
	assert.Empty(t, entries)

	snap, err := e.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Sessions)
}

func TestEphemeral_CloseWritesFinalSnapshot(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEphemeral(EphemeralConfig{Dir: dir})
	require.NoError(t, err)

	want := fixture(t)
	e.Attach(&staticSource{snap: want})
	require.NoError(t, e.Close(context.Background()))

	// The snapshot uses the durable layout, so a durable backend can read it.
	d, err := NewDurable(dir, nil)
	require.NoError(t, err)
	got, err := d.Load(context.Background())
	require.NoError(t, err)
	assertSameJSON(t, want, got)

	// Close is idempotent.
	require.NoError(t, e.Close(context.Background()))
}

func TestEphemeral_SnapshotPrunesRemovedEntities(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEphemeral(EphemeralConfig{Dir: dir})
	require.NoError(t, err)

	src := &staticSource{snap: fixture(t)}
	e.Attach(src)
	require.NoError(t, e.Flush(context.Background()))

	src.set(NewSnapshot())
	require.NoError(t, e.Flush(context.Background()))

	for _, sub := range []string{SessionsDir, TracesDir, MessagesDir} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.Empty(t, entries, sub)
	}
}

func TestEphemeral_TickerSnapshots(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEphemeral(EphemeralConfig{Dir: dir, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer e.Close(context.Background())

	e.Attach(&staticSource{snap: fixture(t)})

	path := filepath.Join(dir, SessionsDir, "sess-1.json")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEphemeral_FailedSnapshotIsRetried(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEphemeral(EphemeralConfig{Dir: dir})
	require.NoError(t, err)
	e.Attach(&staticSource{snap: fixture(t)})

	// Make the traces directory unwritable by replacing it with a file.
	traces := filepath.Join(dir, TracesDir)
	require.NoError(t, os.RemoveAll(traces))
	require.NoError(t, os.WriteFile(traces, []byte("x"), 0o644))

	err = e.Flush(context.Background())
	require.Error(t, err)
	assert.Greater(t, e.queue.len(), 0, "failed writes stay queued")

	require.NoError(t, os.Remove(traces))
	require.NoError(t, os.MkdirAll(traces, 0o755))
	require.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, 0, e.queue.len())

	_, err = os.Stat(filepath.Join(traces, "span-b.json"))
	assert.NoError(t, err)
}

func TestEphemeral_NoDirDisablesSnapshots(t *testing.T) {
	e, err := NewEphemeral(EphemeralConfig{Interval: time.Millisecond})
	require.NoError(t, err)
	e.Attach(&staticSource{snap: fixture(t)})
	require.NoError(t, e.Close(context.Background()))
}
