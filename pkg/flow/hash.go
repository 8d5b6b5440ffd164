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

package flow

// fnv1aOffset32 is the initial state for hashFNV1a.
const fnv1aOffset32 uint32 = 2166136261

// hashFNV1a returns a hash value for the given state combined with the given
// byte. To hash a sequence of bytes, invoke for each byte, passing the
// returned value of one call as the state for the next.
func hashFNV1a(state uint32, c byte) uint32 {
	const prime32 = 16777619
	return (state ^ uint32(c)) * prime32
}

func hashBytes(state uint32, b []byte) uint32 {
	for _, c := range b {
		state = hashFNV1a(state, c)
	}
	return state
}

func hashU16(state uint32, v uint16) uint32 {
	state = hashFNV1a(state, byte(v>>8))
	return hashFNV1a(state, byte(v))
}

func hashU32(state uint32, v uint32) uint32 {
	state = hashU16(state, uint16(v>>16))
	return hashU16(state, uint16(v))
}

func hashU64(state uint32, v uint64) uint32 {
	state = hashU32(state, uint32(v>>32))
	return hashU32(state, uint32(v))
}

// Hash returns a 32-bit hash over all defined fields of the key. Keys that
// are == hash to the same value; the classifier must still compare keys in
// full after a hash match, collisions are possible.
func (k *Key) Hash() uint32 {
	h := fnv1aOffset32
	h = hashU64(h, k.TunnelID)
	h = hashBytes(h, k.IPv6Src[:])
	h = hashBytes(h, k.IPv6Dst[:])
	h = hashBytes(h, k.NDTarget[:])
	h = hashU32(h, k.Priority)
	for _, r := range k.Regs {
		h = hashU32(h, r)
	}
	h = hashU32(h, k.IPv4Src)
	h = hashU32(h, k.IPv4Dst)
	h = hashU32(h, k.IPv6Label)
	h = hashU32(h, k.InPort)
	h = hashU16(h, k.VLANTCI)
	h = hashU16(h, k.EthType)
	h = hashU16(h, k.L4Src)
	h = hashU16(h, k.L4Dst)
	h = hashBytes(h, k.EthSrc[:])
	h = hashBytes(h, k.EthDst[:])
	h = hashBytes(h, k.HWSrc[:])
	h = hashBytes(h, k.HWDst[:])
	h = hashFNV1a(h, k.Proto)
	h = hashFNV1a(h, k.ToS)
	h = hashFNV1a(h, k.TTL)
	h = hashFNV1a(h, byte(k.Frag))
	return h
}
