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

package nlattr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/pkg/nlattr"
)

func TestBuilderRoundTrip(t *testing.T) {
	b := nlattr.NewBuilder(64)
	b.PutUint8(1, 0xab)
	b.PutUint16(2, 0xcafe)
	b.PutUint32(3, 0xdeadbeef)
	b.PutUint64(4, 0x0123456789abcdef)
	b.PutBytes(5, []byte{1, 2, 3})
	b.PutEmpty(6)

	m, err := nlattr.Parse(b.Bytes())
	require.NoError(t, err)

	u8, err := m.Uint8(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), u8)
	u16, err := m.Uint16(2)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xcafe), u16)
	u32, err := m.Uint32(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u32)
	u64, err := m.Uint64(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0123456789abcdef), u64)
	raw, err := m.Bytes(5, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)
	empty, err := m.Bytes(6, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBuilderAlignment(t *testing.T) {
	b := nlattr.NewBuilder(0)
	b.PutUint8(1, 0xff)
	// Header plus one byte pads to 8.
	assert.Len(t, b.Bytes(), 8)
	b.PutUint32(2, 1)
	assert.Len(t, b.Bytes(), 16)

	var types []uint16
	err := nlattr.ForEach(b.Bytes(), func(typ uint16, value []byte) error {
		types = append(types, typ)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, types)
}

func TestBuilderNested(t *testing.T) {
	b := nlattr.NewBuilder(64)
	b.PutUint32(1, 7)
	b.PutNested(2, func(nb *nlattr.Builder) {
		nb.PutUint16(10, 0x1234)
		nb.PutUint8(11, 9)
	})
	b.PutUint32(3, 8)

	m, err := nlattr.Parse(b.Bytes())
	require.NoError(t, err)
	nested, ok := m[2]
	require.True(t, ok)

	nm, err := nlattr.Parse(nested[:])
	require.NoError(t, err)
	inner, err := nm.Uint16(10)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), inner)

	outer, err := m.Uint32(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), outer)
}

func TestForEachErrors(t *testing.T) {
	t.Run("truncated header", func(t *testing.T) {
		err := nlattr.ForEach([]byte{0, 8, 0}, func(uint16, []byte) error { return nil })
		assert.Error(t, err)
	})
	t.Run("length overruns buffer", func(t *testing.T) {
		err := nlattr.ForEach([]byte{0, 12, 0, 1, 0, 0, 0, 0}, func(uint16, []byte) error { return nil })
		assert.Error(t, err)
	})
	t.Run("length below header", func(t *testing.T) {
		err := nlattr.ForEach([]byte{0, 2, 0, 1}, func(uint16, []byte) error { return nil })
		assert.Error(t, err)
	})
	t.Run("callback error stops walk", func(t *testing.T) {
		b := nlattr.NewBuilder(32)
		b.PutUint8(1, 1)
		b.PutUint8(2, 2)
		calls := 0
		err := nlattr.ForEach(b.Bytes(), func(typ uint16, _ []byte) error {
			calls++
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, calls)
	})
}

func TestMapDuplicateWins(t *testing.T) {
	b := nlattr.NewBuilder(32)
	b.PutUint32(1, 1)
	b.PutUint32(1, 2)

	m, err := nlattr.Parse(b.Bytes())
	require.NoError(t, err)
	v, err := m.Uint32(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v)
}
