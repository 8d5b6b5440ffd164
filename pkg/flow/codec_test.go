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

package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/pkg/flow"
	"github.com/flowplane/flowplane/pkg/nlattr"
)

func TestKeyAttrsRoundTrip(t *testing.T) {
	testCases := map[string]flow.Key{
		"ipv4 tcp": {
			TunnelID: 0xfeed,
			Regs:     [flow.NumRegs]uint32{1, 0, 3, 0},
			InPort:   2,
			EthSrc:   [6]byte{2, 0, 0, 0, 0, 1},
			EthDst:   [6]byte{2, 0, 0, 0, 0, 2},
			EthType:  flow.EthTypeIPv4,
			VLANTCI:  flow.VLANPresent | 5<<13 | 100,
			IPv4Src:  0x0a000001,
			IPv4Dst:  0x0a000002,
			Proto:    flow.ProtoTCP,
			ToS:      0x10,
			TTL:      64,
			L4Src:    49152,
			L4Dst:    443,
		},
		"ipv4 first fragment": {
			InPort:  1,
			EthType: flow.EthTypeIPv4,
			IPv4Src: 1,
			IPv4Dst: 2,
			Proto:   flow.ProtoUDP,
			TTL:     64,
			Frag:    flow.FragAny,
			L4Src:   7000,
			L4Dst:   53,
		},
		"icmpv6 nd": {
			InPort:   4,
			EthType:  flow.EthTypeIPv6,
			IPv6Src:  [16]byte{0xfe, 0x80, 15: 1},
			IPv6Dst:  [16]byte{0xff, 0x02, 15: 2},
			Proto:    flow.ProtoICMPv6,
			TTL:      255,
			L4Src:    135,
			NDTarget: [16]byte{0xfe, 0x80, 15: 3},
			HWSrc:    [6]byte{2, 0, 0, 0, 0, 7},
		},
		"arp": {
			InPort:  1,
			EthType: flow.EthTypeARP,
			Proto:   1,
			IPv4Src: 0x0a000001,
			IPv4Dst: 0x0a000002,
			HWSrc:   [6]byte{2, 0, 0, 0, 0, 1},
		},
		"non ip": {
			InPort:  9,
			EthType: flow.EthTypeNone,
			EthSrc:  [6]byte{1, 2, 3, 4, 5, 6},
		},
	}
	for name, key := range testCases {
		t.Run(name, func(t *testing.T) {
			var got flow.Key
			require.NoError(t, flow.DecodeAttrs(key.MarshalAttrs(), &got))
			assert.Equal(t, key, got)
		})
	}
}

func TestKeyAttrsOmitPriority(t *testing.T) {
	key := flow.Key{InPort: 1, EthType: flow.EthTypeNone, Priority: 42}

	var got flow.Key
	require.NoError(t, flow.DecodeAttrs(key.MarshalAttrs(), &got))

	assert.Zero(t, got.Priority)
	got.Priority = key.Priority
	assert.Equal(t, key, got)
}

func TestKeyAttrsLaterFragmentOmitsL4(t *testing.T) {
	key := flow.Key{
		EthType: flow.EthTypeIPv4,
		Proto:   flow.ProtoTCP,
		Frag:    flow.FragAny | flow.FragLater,
		// Stale port values must not survive the round-trip.
		L4Src: 80,
		L4Dst: 8080,
	}

	var got flow.Key
	require.NoError(t, flow.DecodeAttrs(key.MarshalAttrs(), &got))

	assert.Zero(t, got.L4Src)
	assert.Zero(t, got.L4Dst)
	assert.Equal(t, key.Frag, got.Frag)
}

func TestDecodeAttrsErrors(t *testing.T) {
	t.Run("unknown attribute", func(t *testing.T) {
		b := nlattr.NewBuilder(16)
		b.PutUint32(999, 1)
		var got flow.Key
		assert.ErrorIs(t, flow.DecodeAttrs(b.Bytes(), &got), flow.ErrBadKeyEncoding)
	})
	t.Run("short payload", func(t *testing.T) {
		b := nlattr.NewBuilder(16)
		b.PutUint16(1, 7) // in_port must be a u32
		var got flow.Key
		assert.ErrorIs(t, flow.DecodeAttrs(b.Bytes(), &got), flow.ErrBadKeyEncoding)
	})
	t.Run("truncated buffer", func(t *testing.T) {
		key := flow.Key{InPort: 1, EthType: flow.EthTypeNone}
		raw := key.MarshalAttrs()
		var got flow.Key
		assert.ErrorIs(t, flow.DecodeAttrs(raw[:len(raw)-5], &got), flow.ErrBadKeyEncoding)
	})
}

func TestKeyHash(t *testing.T) {
	base := flow.Key{InPort: 1, EthType: flow.EthTypeIPv4, IPv4Src: 1, Proto: flow.ProtoTCP}
	assert.Equal(t, base.Hash(), base.Hash())

	mutations := map[string]func(*flow.Key){
		"in_port":  func(k *flow.Key) { k.InPort = 2 },
		"ipv4 src": func(k *flow.Key) { k.IPv4Src = 2 },
		"priority": func(k *flow.Key) { k.Priority = 1 },
		"reg":      func(k *flow.Key) { k.Regs[3] = 1 },
		"frag":     func(k *flow.Key) { k.Frag = flow.FragAny },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			k := base
			mutate(&k)
			assert.NotEqual(t, base.Hash(), k.Hash())
		})
	}
}
