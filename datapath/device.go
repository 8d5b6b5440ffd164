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
	"sync"
)

// Device is the attachment point between a port and whatever carries its
// frames: a TAP interface, an in-memory pair in tests, or an internal port.
type Device interface {
	// Recv returns the next available ingress frame, without blocking.
	// It returns ErrWouldBlock when none is available. The returned slice
	// is owned by the caller.
	Recv() ([]byte, error)
	// Send transmits one frame. The device must not retain the slice.
	Send(frame []byte) error
	// Ready returns a channel that receives a token when Recv may succeed.
	// The channel has capacity one; a token can stand for any number of
	// frames, so consumers drain with Recv until ErrWouldBlock.
	Ready() <-chan struct{}
	Close() error
}

// MemDevice is an in-memory Device: ingress frames are injected by the test
// or the peer, egress frames accumulate for inspection. The zero value is
// not usable; use NewMemDevice.
type MemDevice struct {
	mtx    sync.Mutex
	rx     [][]byte
	tx     [][]byte
	ready  chan struct{}
	closed bool
}

// NewMemDevice returns an empty in-memory device.
func NewMemDevice() *MemDevice {
	return &MemDevice{ready: make(chan struct{}, 1)}
}

// Inject queues a copy of frame for ingress. Safe for concurrent use.
func (d *MemDevice) Inject(frame []byte) {
	d.mtx.Lock()
	d.rx = append(d.rx, append([]byte(nil), frame...))
	d.mtx.Unlock()
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// Recv implements Device.
func (d *MemDevice) Recv() ([]byte, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if len(d.rx) == 0 {
		return nil, ErrWouldBlock
	}
	frame := d.rx[0]
	d.rx = d.rx[1:]
	return frame, nil
}

// Send implements Device; the transmitted frame is copied and retained for
// TxFrames.
func (d *MemDevice) Send(frame []byte) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.tx = append(d.tx, append([]byte(nil), frame...))
	return nil
}

// TxFrames returns all frames transmitted so far.
func (d *MemDevice) TxFrames() [][]byte {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append([][]byte(nil), d.tx...)
}

// Ready implements Device.
func (d *MemDevice) Ready() <-chan struct{} {
	return d.ready
}

// Close implements Device.
func (d *MemDevice) Close() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.closed = true
	d.rx = nil
	return nil
}
