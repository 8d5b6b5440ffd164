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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpcallQueueOrder(t *testing.T) {
	q := newUpcallQueue(8)
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonAction, UserData: 1}))
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss, UserData: 2}))
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonAction, UserData: 3}))
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss, UserData: 4}))

	// Misses drain before action upcalls, FIFO within a reason.
	var got []uint64
	for {
		u, err := q.recv(MaskAll)
		if err != nil {
			assert.ErrorIs(t, err, ErrWouldBlock)
			break
		}
		got = append(got, u.UserData)
	}
	assert.Equal(t, []uint64{2, 4, 1, 3}, got)
}

func TestUpcallQueueMask(t *testing.T) {
	q := newUpcallQueue(8)
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss}))
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonAction}))

	_, err := q.recv(0)
	assert.ErrorIs(t, err, ErrWouldBlock, "empty mask selects nothing")

	u, err := q.recv(ReasonAction.Mask())
	require.NoError(t, err)
	assert.Equal(t, ReasonAction, u.Reason)

	assert.Equal(t, 1, q.pending(MaskAll))
	assert.Equal(t, 0, q.pending(ReasonAction.Mask()))
}

func TestUpcallQueueOverflow(t *testing.T) {
	q := newUpcallQueue(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss, UserData: uint64(i)}))
	}

	err := q.enqueue(Upcall{Reason: ReasonMiss, UserData: 99})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), q.lost.Load())

	// The newest upcall is the one dropped; queued entries survive intact.
	for i := 0; i < 4; i++ {
		u, err := q.recv(MaskAll)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), u.UserData)
	}
	_, err = q.recv(MaskAll)
	assert.ErrorIs(t, err, ErrWouldBlock)

	// Rings are independent: a full miss ring does not block action upcalls.
	for i := 0; i < 4; i++ {
		require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss}))
	}
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonAction}))
}

func TestUpcallQueueCapacityRounding(t *testing.T) {
	q := newUpcallQueue(5)
	// Rounded up to 8.
	for i := 0; i < 8; i++ {
		require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss}))
	}
	assert.ErrorIs(t, q.enqueue(Upcall{Reason: ReasonMiss}), ErrQueueFull)
}

func TestUpcallQueuePurge(t *testing.T) {
	q := newUpcallQueue(8)
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss}))
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonAction}))

	q.purge()
	assert.Zero(t, q.pending(MaskAll))
	assert.Zero(t, q.lost.Load(), "purged upcalls are not lost")
	_, err := q.recv(MaskAll)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestUpcallQueueReadySignal(t *testing.T) {
	q := newUpcallQueue(8)
	select {
	case <-q.readyChan():
		t.Fatal("token on an empty queue")
	default:
	}

	require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss}))
	require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss}))

	// A single token coalesces any number of enqueues.
	<-q.readyChan()
	select {
	case <-q.readyChan():
		t.Fatal("second token for coalesced enqueues")
	default:
	}
}

func TestUpcallWrapAround(t *testing.T) {
	q := newUpcallQueue(2)
	for i := 0; i < 100; i++ {
		require.NoError(t, q.enqueue(Upcall{Reason: ReasonMiss, UserData: uint64(i)}))
		u, err := q.recv(MaskAll)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), u.UserData)
	}
}
