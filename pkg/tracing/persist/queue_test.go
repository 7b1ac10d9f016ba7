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
	"testing"
)

func paths(ops []writeOp) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.path
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWriteQueue_FIFO(t *testing.T) {
	q := newWriteQueue(1024, nil)
	q.push(writeOp{path: "a", data: []byte("1")})
	q.push(writeOp{path: "b", data: []byte("2")})
	q.push(writeOp{path: "c", data: []byte("3")})

	if got := paths(q.take()); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("take = %v", got)
	}
	if q.len() != 0 || q.size() != 0 {
		t.Errorf("queue not empty after take: len=%d size=%d", q.len(), q.size())
	}
}

func TestWriteQueue_NewerWriteSupersedes(t *testing.T) {
	q := newWriteQueue(1024, nil)
	q.push(writeOp{path: "a", data: []byte("old")})
	q.push(writeOp{path: "b", data: []byte("x")})
	q.push(writeOp{path: "a", data: []byte("new")})

	ops := q.take()
	if got := paths(ops); !equalStrings(got, []string{"b", "a"}) {
		t.Fatalf("take = %v", got)
	}
	if string(ops[1].data) != "new" {
		t.Errorf("data = %q, want new", ops[1].data)
	}
}

func TestWriteQueue_ByteBoundDropsOldest(t *testing.T) {
	var reported int64
	q := newWriteQueue(10, func(n int64) { reported = n })

	// Each op is 1 byte of path plus 4 bytes of data.
	q.push(writeOp{path: "a", data: []byte("aaaa")})
	q.push(writeOp{path: "b", data: []byte("bbbb")})
	if dropped := q.push(writeOp{path: "c", data: []byte("cccc")}); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	if q.size() != 10 || reported != 10 {
		t.Errorf("size = %d, reported = %d, want 10", q.size(), reported)
	}
	if got := paths(q.take()); !equalStrings(got, []string{"b", "c"}) {
		t.Errorf("take = %v", got)
	}
	if reported != 0 {
		t.Errorf("reported = %d after take, want 0", reported)
	}
}

func TestWriteQueue_OversizedEntryIsKept(t *testing.T) {
	q := newWriteQueue(4, nil)
	q.push(writeOp{path: "big", data: []byte("0123456789")})
	if q.len() != 1 {
		t.Errorf("len = %d, want 1", q.len())
	}
}

func TestWriteQueue_RequeueAtHead(t *testing.T) {
	q := newWriteQueue(1024, nil)
	q.push(writeOp{path: "a", data: []byte("1")})
	q.push(writeOp{path: "b", data: []byte("2")})
	failed := q.take()

	q.push(writeOp{path: "c", data: []byte("3")})
	q.push(writeOp{path: "b", data: []byte("newer")})
	q.requeue(failed)

	ops := q.take()
	if got := paths(ops); !equalStrings(got, []string{"a", "c", "b"}) {
		t.Fatalf("take = %v", got)
	}
	if string(ops[2].data) != "newer" {
		t.Errorf("requeued stale write replaced a newer one: %q", ops[2].data)
	}
}

func TestWriteQueue_DeleteOps(t *testing.T) {
	q := newWriteQueue(1024, nil)
	q.push(writeOp{path: "a", data: []byte("1")})
	q.push(writeOp{path: "a"})

	ops := q.take()
	if len(ops) != 1 || ops[0].data != nil {
		t.Errorf("expected a single delete op, got %+v", ops)
	}
}
