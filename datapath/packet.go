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
	"github.com/flowplane/flowplane/pkg/flow"
)

// defaultHeadroom is the number of spare bytes kept in front of a frame so
// that header pushes do not normally reallocate.
const defaultHeadroom = 64

// Packet owns a frame buffer together with the decoded layer offsets. The
// frame can grow at the front (header push) and shrink (header pop); the
// layer offsets are adjusted on every resize, so they are never stale. All
// offsets in Layers are relative to the current frame start.
type Packet struct {
	buf []byte // backing storage; frame occupies buf[off:end]
	off int
	end int
	// Layers holds the L2/L3/L4 boundaries as produced by flow.Extract and
	// maintained across header pushes and pops.
	Layers flow.Layers
}

// NewPacket returns a packet holding a copy of frame, with headroom
// reserved. The layer offsets are unset; callers run flow.Extract to fill
// them.
func NewPacket(frame []byte) *Packet {
	p := &Packet{
		buf: make([]byte, defaultHeadroom+len(frame)),
		off: defaultHeadroom,
		end: defaultHeadroom + len(frame),
	}
	copy(p.buf[p.off:], frame)
	p.Layers = flow.Layers{L2: 0, L3: -1, L4: -1}
	return p
}

// Data returns the current frame bytes. The slice is invalidated by insert
// and remove.
func (p *Packet) Data() []byte {
	return p.buf[p.off:p.end]
}

// Len returns the current frame length.
func (p *Packet) Len() int {
	return p.end - p.off
}

// insert makes room for n new bytes at frame offset at, moving the bytes in
// front of the insertion point into the headroom. The new bytes are
// uninitialized; the returned slice is the full frame. Layer offsets at or
// behind the insertion point are shifted.
func (p *Packet) insert(at, n int) []byte {
	if p.off < n {
		// Headroom exhausted; reallocate with fresh headroom.
		buf := make([]byte, defaultHeadroom+n+p.Len())
		copy(buf[defaultHeadroom+n:], p.Data())
		p.end = len(buf)
		p.off = defaultHeadroom + n
		p.buf = buf
	}
	copy(p.buf[p.off-n:], p.buf[p.off:p.off+at])
	p.off -= n
	p.shiftAfter(at, n)
	return p.Data()
}

// remove deletes n bytes at frame offset at by moving the leading bytes
// forward. Layer offsets behind the removed range are shifted back.
func (p *Packet) remove(at, n int) []byte {
	copy(p.buf[p.off+n:], p.buf[p.off:p.off+at])
	p.off += n
	p.shiftAfter(at, -n)
	return p.Data()
}

func (p *Packet) shiftAfter(at, delta int) {
	if p.Layers.L3 >= at {
		p.Layers.L3 += delta
	}
	if p.Layers.L4 >= at {
		p.Layers.L4 += delta
	}
}

// l3 returns the frame bytes from the network header on, or nil if there is
// none.
func (p *Packet) l3() []byte {
	if p.Layers.L3 < 0 || p.Layers.L3 > p.Len() {
		return nil
	}
	return p.Data()[p.Layers.L3:]
}

// l4 returns the frame bytes from the transport header on, or nil if there
// is none.
func (p *Packet) l4() []byte {
	if p.Layers.L4 < 0 || p.Layers.L4 > p.Len() {
		return nil
	}
	return p.Data()[p.Layers.L4:]
}
