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
	"sync"
)

// DefaultMaxQueuedBytes bounds the snapshot write queue when no limit is
// configured.
const DefaultMaxQueuedBytes int64 = 64 << 20

// writeOp is a pending file write. A nil data slice removes the file.
type writeOp struct {
	path string
	data []byte
}

func (op writeOp) size() int64 {
	return int64(len(op.path) + len(op.data))
}

type queuedOp struct {
	writeOp
	superseded bool
}

// writeQueue is a FIFO of pending file writes bounded by total bytes.
//
// Queuing a write for a path that is already queued supersedes the older
// entry. When the byte bound is exceeded the oldest entries are dropped; the
// newest entry is always kept.
type writeQueue struct {
	mu       sync.Mutex
	items    []*queuedOp
	byPath   map[string]*queuedOp
	bytes    int64
	maxBytes int64
	onSize   func(int64)
}

func newWriteQueue(maxBytes int64, onSize func(int64)) *writeQueue {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxQueuedBytes
	}
	if onSize == nil {
		onSize = func(int64) {}
	}
	return &writeQueue{
		byPath:   make(map[string]*queuedOp),
		maxBytes: maxBytes,
		onSize:   onSize,
	}
}

// push appends op and returns the number of entries dropped to stay within
// the byte bound.
func (q *writeQueue) push(op writeOp) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if old, ok := q.byPath[op.path]; ok {
		old.superseded = true
		q.bytes -= old.size()
	}
	item := &queuedOp{writeOp: op}
	q.items = append(q.items, item)
	q.byPath[op.path] = item
	q.bytes += op.size()

	dropped := q.trimLocked()
	q.onSize(q.bytes)
	return dropped
}

// requeue puts ops back at the head of the queue in their original order.
// An op is discarded if a newer write for the same path was queued since it
// was taken.
func (q *writeQueue) requeue(ops []writeOp) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	head := make([]*queuedOp, 0, len(ops)+len(q.items))
	for _, op := range ops {
		if _, ok := q.byPath[op.path]; ok {
			continue
		}
		item := &queuedOp{writeOp: op}
		head = append(head, item)
		q.byPath[op.path] = item
		q.bytes += op.size()
	}
	q.items = append(head, q.items...)

	dropped := q.trimLocked()
	q.onSize(q.bytes)
	return dropped
}

// take removes and returns every live queued op in FIFO order.
func (q *writeQueue) take() []writeOp {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := make([]writeOp, 0, len(q.byPath))
	for _, item := range q.items {
		if !item.superseded {
			ops = append(ops, item.writeOp)
		}
	}
	q.items = nil
	q.byPath = make(map[string]*queuedOp)
	q.bytes = 0
	q.onSize(0)
	return ops
}

// len returns the number of live queued ops.
func (q *writeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byPath)
}

// size returns the number of queued bytes.
func (q *writeQueue) size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

func (q *writeQueue) trimLocked() int {
	dropped := 0
	for q.bytes > q.maxBytes && len(q.byPath) > 1 {
		item := q.items[0]
		q.items = q.items[1:]
		if item.superseded {
			continue
		}
		q.bytes -= item.size()
		delete(q.byPath, item.path)
		dropped++
	}
	return dropped
}
