// Copyright 2024 The Flowplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datapath

import (
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/flowplane/flowplane/pkg/flow"
)

// PutFlags control the behavior of Table.Put. Create and Modify are
// independent: with neither set, Put is a strict insert that fails on an
// existing key.
type PutFlags uint8

const (
	// PutCreate allows Put to create the flow if it is absent.
	PutCreate PutFlags = 1 << iota
	// PutModify allows Put to replace the action list of an existing flow.
	PutModify
	// PutZeroStats resets the statistics of a modified flow.
	PutZeroStats
)

// FlowStats is a snapshot of a flow's accumulated statistics.
type FlowStats struct {
	Packets  uint64
	Bytes    uint64
	Used     time.Time // zero if the flow never matched a packet
	TCPFlags uint8     // OR of TCP control bits seen by this flow
}

// Entry is one installed flow. The key is immutable for the lifetime of the
// entry; the action list is replaced atomically so a concurrent reader sees
// either the old or the new list in full. Statistics counters are atomics:
// they are monotonic, but a concurrent dump may observe a packet count and a
// byte count from different instants.
type Entry struct {
	key      flow.Key
	hash     uint32
	actions  atomic.Pointer[[]Action]
	packets  atomic.Uint64
	bytes    atomic.Uint64
	used     atomic.Int64 // unix nanoseconds, 0 = never
	tcpFlags atomic.Uint32
}

// Key returns the flow's key.
func (e *Entry) Key() flow.Key {
	return e.key
}

// Actions returns the flow's current action list. The returned slice must
// not be modified; Put replaces it wholesale.
func (e *Entry) Actions() []Action {
	return *e.actions.Load()
}

// Stats returns a snapshot of the flow's statistics.
func (e *Entry) Stats() FlowStats {
	s := FlowStats{
		Packets:  e.packets.Load(),
		Bytes:    e.bytes.Load(),
		TCPFlags: uint8(e.tcpFlags.Load()),
	}
	if ns := e.used.Load(); ns != 0 {
		s.Used = time.Unix(0, ns)
	}
	return s
}

// update records one matched packet. TCP control bits are accumulated with
// OR and only ever grow until an explicit stats reset.
func (e *Entry) update(pktLen int, tcpFlags uint8, now time.Time) {
	e.packets.Add(1)
	e.bytes.Add(uint64(pktLen))
	e.used.Store(now.UnixNano())
	if tcpFlags != 0 {
		e.tcpFlags.Store(e.tcpFlags.Load() | uint32(tcpFlags))
	}
}

func (e *Entry) zeroStats() {
	e.packets.Store(0)
	e.bytes.Store(0)
	e.used.Store(0)
	e.tcpFlags.Store(0)
}

// Table is the exact-match flow table: a hash-bucketed map from flow keys to
// entries, bounded by a maximum entry count. All mutation happens on the
// datapath goroutine; dumps may run concurrently under the relaxed
// consistency contract of DumpNext.
type Table struct {
	buckets [][]*Entry
	mask    uint32
	count   int
	max     int
}

// NewTable returns an empty table that holds at most maxFlows entries.
func NewTable(maxFlows int) *Table {
	if maxFlows < 1 {
		maxFlows = 1
	}
	// Aim for shallow buckets at capacity; clamp to a sane range.
	n := 1 << bits.Len(uint(maxFlows/4))
	if n < 16 {
		n = 16
	}
	if n > 1<<16 {
		n = 1 << 16
	}
	return &Table{
		buckets: make([][]*Entry, n),
		mask:    uint32(n - 1),
		max:     maxFlows,
	}
}

// Len returns the number of installed flows.
func (t *Table) Len() int {
	return t.count
}

// MaxFlows returns the configured capacity.
func (t *Table) MaxFlows() int {
	return t.max
}

// Lookup returns the entry for the exact key, if installed. The hash narrows
// the search to one bucket; the full key comparison decides, so hash
// collisions can never produce a false match.
func (t *Table) Lookup(k *flow.Key) (*Entry, bool) {
	h := k.Hash()
	for _, e := range t.buckets[h&t.mask] {
		if e.hash == h && e.key == *k {
			return e, true
		}
	}
	return nil, false
}

// Put installs or replaces the flow for key according to flags. It returns
// the statistics snapshot of the pre-existing entry (zero if the flow was
// just created).
//
// With an existing entry: Modify replaces the action list, otherwise Put
// fails with ErrExists. Without one: Create inserts if the table is below
// capacity (ErrTableFull otherwise); without Create, Put fails with
// ErrNotFound.
func (t *Table) Put(k *flow.Key, actions []Action, flags PutFlags) (FlowStats, error) {
	h := k.Hash()
	b := h & t.mask
	for _, e := range t.buckets[b] {
		if e.hash != h || e.key != *k {
			continue
		}
		if flags&PutModify == 0 {
			return FlowStats{}, ErrExists
		}
		stats := e.Stats()
		// Install the new list before anything is released; a concurrent
		// reader sees one list or the other, never a mix.
		e.actions.Store(&actions)
		if flags&PutZeroStats != 0 {
			e.zeroStats()
		}
		return stats, nil
	}
	if flags&PutCreate == 0 {
		return FlowStats{}, ErrNotFound
	}
	if t.count >= t.max {
		return FlowStats{}, ErrTableFull
	}
	e := &Entry{key: *k, hash: h}
	e.actions.Store(&actions)
	t.buckets[b] = append(t.buckets[b], e)
	t.count++
	return FlowStats{}, nil
}

// Delete removes the flow for the exact key and returns its final
// statistics snapshot.
func (t *Table) Delete(k *flow.Key) (FlowStats, error) {
	h := k.Hash()
	b := h & t.mask
	bucket := t.buckets[b]
	for i, e := range bucket {
		if e.hash != h || e.key != *k {
			continue
		}
		stats := e.Stats()
		bucket[i] = bucket[len(bucket)-1]
		bucket[len(bucket)-1] = nil
		t.buckets[b] = bucket[:len(bucket)-1]
		t.count--
		return stats, nil
	}
	return FlowStats{}, ErrNotFound
}

// Flush removes all flows.
func (t *Table) Flush() {
	for i := range t.buckets {
		t.buckets[i] = nil
	}
	t.count = 0
}

// DumpCursor is an opaque resume position for table dumps. The zero value
// starts a dump from the beginning.
type DumpCursor struct {
	bucket int
	pos    int
}

// DumpNext returns the next entry of a dump and advances the cursor.
//
// Consistency is relaxed by design: the cursor walks bucket positions, so a
// dump that is interleaved with inserts and deletes may skip or repeat
// entries, but it always makes progress and terminates, because the bucket
// index only ever moves forward. A dump with no concurrent mutation visits
// every flow exactly once.
func (t *Table) DumpNext(c *DumpCursor) (*Entry, bool) {
	for c.bucket < len(t.buckets) {
		bucket := t.buckets[c.bucket]
		if c.pos < len(bucket) {
			e := bucket[c.pos]
			c.pos++
			return e, true
		}
		c.bucket++
		c.pos = 0
	}
	return nil, false
}
