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
	"sync"
	"sync/atomic"

	"github.com/flowplane/flowplane/pkg/flow"
)

// Reason classifies why a packet was punted to the control plane.
type Reason uint8

const (
	// ReasonMiss: no flow matched the packet.
	ReasonMiss Reason = iota
	// ReasonAction: a flow's action list explicitly requested the upcall.
	ReasonAction

	numReasons
)

func (r Reason) String() string {
	switch r {
	case ReasonMiss:
		return "miss"
	case ReasonAction:
		return "action"
	}
	return "unknown"
}

// ReasonMask selects a set of reasons for upcall retrieval.
type ReasonMask uint8

// Mask returns the mask selecting exactly r.
func (r Reason) Mask() ReasonMask {
	return 1 << r
}

// MaskAll selects every reason.
const MaskAll = ReasonMask(1<<numReasons) - 1

// Upcall is one queued notification to the control plane.
type Upcall struct {
	Reason   Reason
	Key      flow.Key
	Frame    []byte // private copy of the packet bytes
	UserData uint64 // opaque value from the requesting action, 0 for misses
}

// upcallRing is a fixed-capacity ring buffer. The capacity is a power of two
// so the head and tail counters can index with a simple bitmask and never
// need to wrap explicitly.
type upcallRing struct {
	entries []Upcall
	head    uint64 // next slot to read
	tail    uint64 // next slot to write
}

func (r *upcallRing) len() int {
	return int(r.tail - r.head)
}

func (r *upcallRing) push(u Upcall) bool {
	if r.len() == len(r.entries) {
		return false
	}
	r.entries[r.tail&uint64(len(r.entries)-1)] = u
	r.tail++
	return true
}

func (r *upcallRing) pop() (Upcall, bool) {
	if r.head == r.tail {
		return Upcall{}, false
	}
	i := r.head & uint64(len(r.entries)-1)
	u := r.entries[i]
	r.entries[i] = Upcall{} // drop the frame reference
	r.head++
	return u, true
}

// upcallQueue holds one ring per reason plus the lost counter. The fast path
// enqueues from the datapath goroutine while the control plane dequeues from
// its own, so a mutex serializes ring access; it is uncontended in the
// single-threaded baseline.
type upcallQueue struct {
	mtx   sync.Mutex
	rings [numReasons]upcallRing
	lost  atomic.Uint64
	ready chan struct{}
}

func newUpcallQueue(capacity int) *upcallQueue {
	if capacity < 1 {
		capacity = 1
	}
	capacity = 1 << bits.Len(uint(capacity-1)) // round up to a power of two
	q := &upcallQueue{ready: make(chan struct{}, 1)}
	for i := range q.rings {
		q.rings[i].entries = make([]Upcall, capacity)
	}
	return q
}

// enqueue appends u to the ring for its reason. On a full ring the upcall is
// counted as lost and ErrQueueFull is returned; older entries are never
// evicted.
func (q *upcallQueue) enqueue(u Upcall) error {
	q.mtx.Lock()
	ok := q.rings[u.Reason].push(u)
	q.mtx.Unlock()
	if !ok {
		q.lost.Add(1)
		return ErrQueueFull
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// recv returns the next upcall whose reason is selected by mask. Rings are
// drained in ascending reason order: all pending misses are delivered before
// any action-requested upcalls. Returns ErrWouldBlock when every selected
// ring is empty.
func (q *upcallQueue) recv(mask ReasonMask) (Upcall, error) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	for r := Reason(0); r < numReasons; r++ {
		if mask&r.Mask() == 0 {
			continue
		}
		if u, ok := q.rings[r].pop(); ok {
			return u, nil
		}
	}
	return Upcall{}, ErrWouldBlock
}

// readyChan returns a channel that receives a token when an upcall may be
// pending. The channel has capacity one: a token may represent any number of
// enqueues, so consumers drain with recv until ErrWouldBlock.
func (q *upcallQueue) readyChan() <-chan struct{} {
	return q.ready
}

// purge drops all queued upcalls. The lost counter is unaffected.
func (q *upcallQueue) purge() {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	for i := range q.rings {
		r := &q.rings[i]
		for {
			if _, ok := r.pop(); !ok {
				break
			}
		}
	}
}

func (q *upcallQueue) pending(mask ReasonMask) int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	n := 0
	for r := Reason(0); r < numReasons; r++ {
		if mask&r.Mask() != 0 {
			n += q.rings[r].len()
		}
	}
	return n
}
