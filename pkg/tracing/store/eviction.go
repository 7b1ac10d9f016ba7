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

package store

import (
	"context"
	"fmt"

	"github.com/tombee/tracelight/internal/log"
	"github.com/tombee/tracelight/pkg/observability"
)

// sessionSlot owns one resident session and the ids of everything keyed to
// it, so that eviction never has to scan the span map.
type sessionSlot struct {
	session  *observability.Session
	spanIDs  []string
	messages []*observability.Message
}

// sessionArena stores session slots densely and remembers the order in
// which they were inserted.
type sessionArena struct {
	slots []*sessionSlot
	free  []int
	index map[string]int
	order ringQueue
}

func newSessionArena() *sessionArena {
	return &sessionArena{index: make(map[string]int)}
}

func (a *sessionArena) len() int {
	return len(a.index)
}

func (a *sessionArena) get(id string) (*sessionSlot, bool) {
	i, ok := a.index[id]
	if !ok {
		return nil, false
	}
	return a.slots[i], true
}

// insert places slot in a free position and appends it to the insertion
// order.
func (a *sessionArena) insert(slot *sessionSlot) {
	var i int
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[i] = slot
	} else {
		i = len(a.slots)
		a.slots = append(a.slots, slot)
	}
	a.index[slot.session.ID] = i
	a.order.push(i)
}

// oldest returns the earliest-inserted resident slot.
func (a *sessionArena) oldest() (*sessionSlot, bool) {
	i, ok := a.order.peek()
	if !ok {
		return nil, false
	}
	return a.slots[i], true
}

// removeOldest frees the earliest-inserted slot and returns it.
func (a *sessionArena) removeOldest() *sessionSlot {
	i, ok := a.order.pop()
	if !ok {
		return nil
	}
	slot := a.slots[i]
	a.slots[i] = nil
	a.free = append(a.free, i)
	delete(a.index, slot.session.ID)
	return slot
}

// each calls fn for every resident slot, oldest first.
func (a *sessionArena) each(fn func(*sessionSlot)) {
	for k := 0; k < a.order.len(); k++ {
		fn(a.slots[a.order.at(k)])
	}
}

// ringQueue is a growable FIFO of slot indexes.
type ringQueue struct {
	buf  []int
	head int
	n    int
}

func (q *ringQueue) len() int {
	return q.n
}

func (q *ringQueue) push(v int) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
}

func (q *ringQueue) peek() (int, bool) {
	if q.n == 0 {
		return 0, false
	}
	return q.buf[q.head], true
}

func (q *ringQueue) pop() (int, bool) {
	if q.n == 0 {
		return 0, false
	}
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// at returns the k-th element from the head.
func (q *ringQueue) at(k int) int {
	return q.buf[(q.head+k)%len(q.buf)]
}

func (q *ringQueue) grow() {
	size := len(q.buf) * 2
	if size == 0 {
		size = 16
	}
	buf := make([]int, size)
	for k := 0; k < q.n; k++ {
		buf[k] = q.at(k)
	}
	q.buf = buf
	q.head = 0
}

// makeRoomLocked evicts the oldest sessions until one more fits under the
// resident bound. Persisted copies are deleted before the in-memory state so
// that a failed delete leaves the store unchanged. Callers hold s.mu.
func (s *Store) makeRoomLocked(ctx context.Context) error {
	if s.maxSessions <= 0 {
		return nil
	}
	for s.arena.len() >= s.maxSessions {
		victim, ok := s.arena.oldest()
		if !ok {
			return nil
		}
		if err := s.backend.DeleteSession(ctx, victim.session.ID, victim.spanIDs); err != nil {
			s.metrics.RecordPersistenceError("delete_session", err)
			return fmt.Errorf("failed to evict session %s: %w", victim.session.ID, err)
		}
		s.evictOldestLocked()
	}
	return nil
}

// evictOldestLocked removes the oldest session with its spans and messages.
// Callers hold s.mu, so readers never observe a partial eviction.
func (s *Store) evictOldestLocked() {
	slot := s.arena.removeOldest()
	if slot == nil {
		return
	}
	for _, id := range slot.spanIDs {
		delete(s.spans, id)
	}
	s.metrics.SessionEvicted()
	log.WithSession(s.logger, slot.session.ID, "").Debug("evicted session",
		"spans", len(slot.spanIDs),
		"messages", len(slot.messages),
		"max_sessions", s.maxSessions,
	)
}
