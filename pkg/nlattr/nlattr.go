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

// Package nlattr implements the typed, tagged attribute encoding used on the
// control-plane boundary: a flat sequence of (length, type, payload)
// attributes, 4-byte aligned, with support for nesting. The layout follows
// the netlink attribute convention; multi-byte scalar payloads are
// big-endian.
package nlattr

import (
	"encoding/binary"

	"github.com/flowplane/flowplane/pkg/private/serrors"
)

// headerLen is the size of the attribute header: u16 length (which includes
// the header itself), u16 type.
const headerLen = 4

func align(n int) int {
	return (n + 3) &^ 3
}

// Builder serializes a sequence of attributes.
type Builder struct {
	buf []byte
}

// NewBuilder returns a builder with the given initial capacity hint.
func NewBuilder(sizeHint int) *Builder {
	return &Builder{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the serialized attributes. The returned slice aliases the
// builder's storage.
func (b *Builder) Bytes() []byte {
	return b.buf
}

func (b *Builder) putHeader(typ uint16, payloadLen int) int {
	start := len(b.buf)
	total := headerLen + payloadLen
	b.buf = append(b.buf, make([]byte, align(total))...)
	binary.BigEndian.PutUint16(b.buf[start:], uint16(total))
	binary.BigEndian.PutUint16(b.buf[start+2:], typ)
	return start + headerLen
}

// PutBytes appends an attribute with an arbitrary payload.
func (b *Builder) PutBytes(typ uint16, payload []byte) {
	off := b.putHeader(typ, len(payload))
	copy(b.buf[off:], payload)
}

// PutEmpty appends an attribute with no payload (a pure flag).
func (b *Builder) PutEmpty(typ uint16) {
	b.putHeader(typ, 0)
}

// PutUint8 appends a uint8 attribute.
func (b *Builder) PutUint8(typ uint16, v uint8) {
	off := b.putHeader(typ, 1)
	b.buf[off] = v
}

// PutUint16 appends a uint16 attribute.
func (b *Builder) PutUint16(typ uint16, v uint16) {
	off := b.putHeader(typ, 2)
	binary.BigEndian.PutUint16(b.buf[off:], v)
}

// PutUint32 appends a uint32 attribute.
func (b *Builder) PutUint32(typ uint16, v uint32) {
	off := b.putHeader(typ, 4)
	binary.BigEndian.PutUint32(b.buf[off:], v)
}

// PutUint64 appends a uint64 attribute.
func (b *Builder) PutUint64(typ uint16, v uint64) {
	off := b.putHeader(typ, 8)
	binary.BigEndian.PutUint64(b.buf[off:], v)
}

// PutNested appends a nested attribute whose payload is built by fill. The
// length is fixed up after fill returns.
func (b *Builder) PutNested(typ uint16, fill func(*Builder)) {
	start := len(b.buf)
	b.putHeader(typ, 0)
	fill(b)
	total := len(b.buf) - start
	binary.BigEndian.PutUint16(b.buf[start:], uint16(total))
	// The nested payload is already aligned because every attribute is.
}

// ForEach walks the attributes in data in order, invoking fn for each. The
// value slice aliases data. Walking stops at the first error.
func ForEach(data []byte, fn func(typ uint16, value []byte) error) error {
	for len(data) > 0 {
		if len(data) < headerLen {
			return serrors.New("attribute header truncated", "remaining", len(data))
		}
		total := int(binary.BigEndian.Uint16(data))
		typ := binary.BigEndian.Uint16(data[2:])
		if total < headerLen || total > len(data) {
			return serrors.New("bad attribute length", "type", typ, "len", total)
		}
		if err := fn(typ, data[headerLen:total]); err != nil {
			return err
		}
		if align(total) >= len(data) {
			return nil
		}
		data = data[align(total):]
	}
	return nil
}

// Map is a parsed attribute sequence, keyed by attribute type. Later
// attributes of a duplicate type win, as in netlink.
type Map map[uint16][]byte

// Parse walks data and collects the attributes into a Map. Nested attributes
// are not descended into; their raw payload is stored.
func Parse(data []byte) (Map, error) {
	m := Map{}
	err := ForEach(data, func(typ uint16, value []byte) error {
		m[typ] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Uint8 returns the payload of the given attribute as a uint8.
func (m Map) Uint8(typ uint16) (uint8, error) {
	v, ok := m[typ]
	if !ok {
		return 0, serrors.New("attribute missing", "type", typ)
	}
	if len(v) != 1 {
		return 0, serrors.New("bad attribute size", "type", typ, "len", len(v), "want", 1)
	}
	return v[0], nil
}

// Uint16 returns the payload of the given attribute as a uint16.
func (m Map) Uint16(typ uint16) (uint16, error) {
	v, ok := m[typ]
	if !ok {
		return 0, serrors.New("attribute missing", "type", typ)
	}
	if len(v) != 2 {
		return 0, serrors.New("bad attribute size", "type", typ, "len", len(v), "want", 2)
	}
	return binary.BigEndian.Uint16(v), nil
}

// Uint32 returns the payload of the given attribute as a uint32.
func (m Map) Uint32(typ uint16) (uint32, error) {
	v, ok := m[typ]
	if !ok {
		return 0, serrors.New("attribute missing", "type", typ)
	}
	if len(v) != 4 {
		return 0, serrors.New("bad attribute size", "type", typ, "len", len(v), "want", 4)
	}
	return binary.BigEndian.Uint32(v), nil
}

// Uint64 returns the payload of the given attribute as a uint64.
func (m Map) Uint64(typ uint16) (uint64, error) {
	v, ok := m[typ]
	if !ok {
		return 0, serrors.New("attribute missing", "type", typ)
	}
	if len(v) != 8 {
		return 0, serrors.New("bad attribute size", "type", typ, "len", len(v), "want", 8)
	}
	return binary.BigEndian.Uint64(v), nil
}

// Bytes returns the payload of the given attribute, checking its exact size.
func (m Map) Bytes(typ uint16, size int) ([]byte, error) {
	v, ok := m[typ]
	if !ok {
		return nil, serrors.New("attribute missing", "type", typ)
	}
	if len(v) != size {
		return nil, serrors.New("bad attribute size", "type", typ, "len", len(v), "want", size)
	}
	return v, nil
}
