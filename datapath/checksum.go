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

import "encoding/binary"

// Incremental one's-complement checksum maintenance per RFC 1071/1624.
// Header rewrites never recompute a checksum from scratch; they adjust it by
// the delta between the old and new field value.

// csumUpdate16 returns the checksum adjusted for a 16-bit field that changed
// from old to new.
func csumUpdate16(csum, old, new uint16) uint16 {
	// HC' = ~(~HC + ~m + m')
	sum := uint32(^csum) + uint32(^old) + uint32(new)
	sum = (sum & 0xffff) + (sum >> 16)
	sum = (sum & 0xffff) + (sum >> 16)
	return ^uint16(sum)
}

// csumUpdate32 returns the checksum adjusted for a 32-bit field that changed
// from old to new, applied as two independent 16-bit updates.
func csumUpdate32(csum uint16, old, new uint32) uint16 {
	csum = csumUpdate16(csum, uint16(old>>16), uint16(new>>16))
	return csumUpdate16(csum, uint16(old), uint16(new))
}

// updateCsumAt applies a 16-bit incremental update to the checksum stored
// big-endian at hdr[at:at+2].
func updateCsumAt(hdr []byte, at int, old, new uint16) {
	c := binary.BigEndian.Uint16(hdr[at:])
	binary.BigEndian.PutUint16(hdr[at:], csumUpdate16(c, old, new))
}

// updateCsumAt32 applies a 32-bit incremental update to the checksum stored
// big-endian at hdr[at:at+2].
func updateCsumAt32(hdr []byte, at int, old, new uint32) {
	c := binary.BigEndian.Uint16(hdr[at:])
	binary.BigEndian.PutUint16(hdr[at:], csumUpdate32(c, old, new))
}
