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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketInsertRemove(t *testing.T) {
	frame := []byte("0123456789abcdef")
	pkt := NewPacket(frame)
	pkt.Layers.L3 = 4
	pkt.Layers.L4 = 8

	data := pkt.insert(4, 4)
	require.Len(t, data, len(frame)+4)
	copy(data[4:8], "TAGG")
	assert.Equal(t, []byte("0123TAGG456789abcdef"), pkt.Data())
	assert.Equal(t, 8, pkt.Layers.L3, "offsets at or after the gap shift")
	assert.Equal(t, 12, pkt.Layers.L4)

	pkt.remove(4, 4)
	assert.Equal(t, frame, pkt.Data())
	assert.Equal(t, 4, pkt.Layers.L3)
	assert.Equal(t, 8, pkt.Layers.L4)
}

func TestPacketInsertExhaustsHeadroom(t *testing.T) {
	frame := bytes.Repeat([]byte{0xaa}, 32)
	pkt := NewPacket(frame)

	// Repeated insertions force the headroom to run out and the buffer to be
	// reallocated; contents must be preserved throughout.
	for i := 0; i < 40; i++ {
		data := pkt.insert(0, 4)
		copy(data[0:4], []byte{1, 2, 3, 4})
	}
	data := pkt.Data()
	assert.Len(t, data, 32+40*4)
	assert.Equal(t, []byte{1, 2, 3, 4}, data[0:4])
	assert.Equal(t, frame, data[40*4:])
}

func TestPacketOwnsBuffer(t *testing.T) {
	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	pkt := NewPacket(frame)
	frame[0] = 0xee
	assert.Equal(t, uint8(1), pkt.Data()[0], "NewPacket copies the frame")
}

func TestPacketLayerHelpers(t *testing.T) {
	pkt := NewPacket(make([]byte, 64))
	assert.Nil(t, pkt.l3())
	assert.Nil(t, pkt.l4())

	pkt.Layers.L3 = 14
	pkt.Layers.L4 = 34
	assert.Len(t, pkt.l3(), 50)
	assert.Len(t, pkt.l4(), 30)
}
