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

import (
	"encoding/binary"
	"errors"
)

// ErrTruncatedExtension is returned by Extract when an IPv6 extension header
// chain runs past the end of the buffer. This is the only hard error the
// parser reports; all other forms of truncation degrade to a partially
// populated key.
var ErrTruncatedExtension = errors.New("truncated IPv6 extension header")

// Metadata is the per-packet ingress context that is copied into the key
// verbatim, independent of the frame contents.
type Metadata struct {
	Priority uint32
	TunnelID uint64
	InPort   uint32
}

// Layers records the byte offsets of the decoded header boundaries within
// the frame, for later in-place mutation. An offset of -1 means the
// corresponding header was not found.
type Layers struct {
	L2 int
	L3 int
	L4 int
}

// Shift moves all set offsets by delta. Used when bytes are inserted into or
// removed from the frame in front of the network header.
func (l *Layers) Shift(delta int) {
	if l.L3 >= 0 {
		l.L3 += delta
	}
	if l.L4 >= 0 {
		l.L4 += delta
	}
}

const (
	ethHeaderLen  = 14
	vlanHeaderLen = 4
	llcSnapLen    = 8
	ethTypeMin    = 0x0600

	ipv4MinHeaderLen = 20
	ipv6HeaderLen    = 40
	arpEthIPv4Len    = 28
	tcpHeaderLen     = 20
	udpHeaderLen     = 8
	icmpHeaderLen    = 8

	// Offset of the ND target address from the start of the ICMPv6 header
	// in neighbor solicitation/advertisement messages.
	ndTargetOff = 8

	ndOptSourceLinkAddr = 1
	ndOptTargetLinkAddr = 2
	ndNeighborSolicit   = 135
	ndNeighborAdvert    = 136
)

// IPv6 extension header protocol numbers the parser walks through.
const (
	protoHopByHop = 0
	protoRouting  = 43
	protoFragment = 44
	protoAH       = 51
	protoDestOpts = 60
)

// Extract parses the protocol headers of frame and fills key and lyr. The
// metadata fields are copied into the key unconditionally. Headers that do
// not fit in the buffer are treated as absent: the corresponding key fields
// stay zero and parsing stops. The only exception is a truncated IPv6
// extension header, which yields ErrTruncatedExtension because the
// self-described chain cannot be skipped safely.
func Extract(frame []byte, md Metadata, key *Key, lyr *Layers) error {
	*key = Key{
		TunnelID: md.TunnelID,
		Priority: md.Priority,
		InPort:   md.InPort,
	}
	*lyr = Layers{L2: 0, L3: -1, L4: -1}

	if len(frame) < ethHeaderLen {
		return nil
	}
	copy(key.EthDst[:], frame[0:6])
	copy(key.EthSrc[:], frame[6:12])

	off := 12
	ethType := binary.BigEndian.Uint16(frame[off:])
	off += 2
	if ethType == EthTypeVLAN && len(frame) >= off+vlanHeaderLen {
		// The CFI bit of the TCI is overwritten with the presence marker.
		key.VLANTCI = binary.BigEndian.Uint16(frame[off:]) | VLANPresent
		ethType = binary.BigEndian.Uint16(frame[off+2:])
		off += vlanHeaderLen
	}
	key.EthType, off = resolveEthType(frame, ethType, off)
	lyr.L3 = off

	switch key.EthType {
	case EthTypeIPv4:
		extractIPv4(frame, off, key, lyr)
		return nil
	case EthTypeIPv6:
		return extractIPv6(frame, off, key, lyr)
	case EthTypeARP:
		extractARP(frame, off, key)
		return nil
	}
	return nil
}

// resolveEthType maps the 16-bit field after the MAC addresses to an
// ethertype. Values below ethTypeMin are 802.3 lengths; the real type then
// hides behind an LLC/SNAP header, or does not exist at all (raw 802.2),
// which is represented by the EthTypeNone sentinel.
func resolveEthType(frame []byte, ethType uint16, off int) (uint16, int) {
	if ethType >= ethTypeMin {
		return ethType, off
	}
	if len(frame) < off+llcSnapLen {
		return EthTypeNone, off
	}
	llc := frame[off:]
	if llc[0] != 0xaa || llc[1] != 0xaa || llc[2] != 0x03 ||
		llc[3] != 0 || llc[4] != 0 || llc[5] != 0 {
		return EthTypeNone, off
	}
	snapType := binary.BigEndian.Uint16(llc[6:])
	if snapType < ethTypeMin {
		return EthTypeNone, off
	}
	return snapType, off + llcSnapLen
}

func extractIPv4(frame []byte, off int, key *Key, lyr *Layers) {
	rem := frame[off:]
	if len(rem) < ipv4MinHeaderLen {
		return
	}
	// The declared header length must neither undercut the fixed header nor
	// overrun the buffer; either way the header cannot be trusted.
	ihl := int(rem[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || ihl > len(rem) {
		return
	}
	key.ToS = rem[1]
	key.TTL = rem[8]
	key.Proto = rem[9]
	key.IPv4Src = binary.BigEndian.Uint32(rem[12:16])
	key.IPv4Dst = binary.BigEndian.Uint32(rem[16:20])

	const (
		moreFragments = 0x2000
		offsetMask    = 0x1fff
	)
	fragField := binary.BigEndian.Uint16(rem[6:8])
	if fragField&(moreFragments|offsetMask) != 0 {
		key.Frag = FragAny
		if fragField&offsetMask != 0 {
			key.Frag |= FragLater
		}
	}
	if key.IsLaterFragment() {
		return
	}
	extractL4(frame, off+ihl, key, lyr)
}

func extractIPv6(frame []byte, off int, key *Key, lyr *Layers) error {
	rem := frame[off:]
	if len(rem) < ipv6HeaderLen {
		return nil
	}
	verClassLabel := binary.BigEndian.Uint32(rem[0:4])
	key.ToS = uint8(verClassLabel >> 20)
	key.IPv6Label = verClassLabel & 0x000fffff
	key.TTL = rem[7]
	copy(key.IPv6Src[:], rem[8:24])
	copy(key.IPv6Dst[:], rem[24:40])

	nextHdr, off, err := walkIPv6Extensions(frame, off+ipv6HeaderLen, rem[6], key)
	key.Proto = nextHdr
	if err != nil {
		return err
	}
	if key.IsLaterFragment() {
		return nil
	}
	if nextHdr == ProtoICMPv6 {
		extractICMPv6(frame, off, key, lyr)
		return nil
	}
	extractL4(frame, off, key, lyr)
	return nil
}

// walkIPv6Extensions consumes the extension header chain starting at off and
// returns the first upper-layer protocol together with its offset. Each
// extension self-describes its length, so at least 8 bytes must be available
// before one can be read; running out of buffer mid-chain is an error. A
// fragment header with nonzero offset ends the walk: the upper-layer header
// belongs to another fragment.
func walkIPv6Extensions(frame []byte, off int, nextHdr uint8, key *Key) (uint8, int, error) {
	for {
		switch nextHdr {
		case protoHopByHop, protoRouting, protoFragment, protoAH, protoDestOpts:
		default:
			return nextHdr, off, nil
		}
		if len(frame)-off < 8 {
			return nextHdr, off, ErrTruncatedExtension
		}
		ext := frame[off:]
		hdrLen := 0
		switch nextHdr {
		case protoAH:
			// AH length is in 4-byte units, not counting the first two.
			hdrLen = (int(ext[1]) + 2) * 4
		case protoFragment:
			hdrLen = 8
			key.Frag |= FragAny
			if binary.BigEndian.Uint16(ext[2:4])&0xfff8 != 0 {
				key.Frag |= FragLater
				return protoFragment, off, nil
			}
		default:
			hdrLen = (int(ext[1]) + 1) * 8
		}
		if len(frame)-off < hdrLen {
			return nextHdr, off, ErrTruncatedExtension
		}
		nextHdr = ext[0]
		off += hdrLen
	}
}

func extractL4(frame []byte, off int, key *Key, lyr *Layers) {
	rem := frame[off:]
	switch key.Proto {
	case ProtoTCP:
		if len(rem) < tcpHeaderLen {
			return
		}
		key.L4Src = binary.BigEndian.Uint16(rem[0:2])
		key.L4Dst = binary.BigEndian.Uint16(rem[2:4])
		lyr.L4 = off
	case ProtoUDP:
		if len(rem) < udpHeaderLen {
			return
		}
		key.L4Src = binary.BigEndian.Uint16(rem[0:2])
		key.L4Dst = binary.BigEndian.Uint16(rem[2:4])
		lyr.L4 = off
	case ProtoICMP:
		if len(rem) < icmpHeaderLen {
			return
		}
		// ICMP type and code take the place of the L4 ports.
		key.L4Src = uint16(rem[0])
		key.L4Dst = uint16(rem[1])
		lyr.L4 = off
	}
}

func extractICMPv6(frame []byte, off int, key *Key, lyr *Layers) {
	rem := frame[off:]
	if len(rem) < icmpHeaderLen {
		return
	}
	typ, code := rem[0], rem[1]
	key.L4Src = uint16(typ)
	key.L4Dst = uint16(code)
	lyr.L4 = off

	if code != 0 || (typ != ndNeighborSolicit && typ != ndNeighborAdvert) {
		return
	}
	if len(rem) < ndTargetOff+16 {
		return
	}
	copy(key.NDTarget[:], rem[ndTargetOff:ndTargetOff+16])

	opts := rem[ndTargetOff+16:]
	for len(opts) >= 8 {
		optLen := int(opts[1]) * 8
		if optLen == 0 || optLen > len(opts) {
			rollbackND(key)
			return
		}
		switch opts[0] {
		case ndOptSourceLinkAddr:
			if optLen == 8 {
				if key.HWSrc != ([6]byte{}) {
					// A second occurrence looks corrupt; keep nothing.
					rollbackND(key)
					return
				}
				copy(key.HWSrc[:], opts[2:8])
			}
		case ndOptTargetLinkAddr:
			if optLen == 8 {
				if key.HWDst != ([6]byte{}) {
					rollbackND(key)
					return
				}
				copy(key.HWDst[:], opts[2:8])
			}
		}
		opts = opts[optLen:]
	}
}

// rollbackND clears all neighbor discovery state parsed so far. A malformed
// or duplicate option invalidates the whole option list, including options
// that were parsed successfully before it.
func rollbackND(key *Key) {
	key.NDTarget = [16]byte{}
	key.HWSrc = [6]byte{}
	key.HWDst = [6]byte{}
}

func extractARP(frame []byte, off int, key *Key) {
	rem := frame[off:]
	if len(rem) < arpEthIPv4Len {
		return
	}
	// Only Ethernet/IPv4 ARP is decoded.
	if binary.BigEndian.Uint16(rem[0:2]) != 1 ||
		binary.BigEndian.Uint16(rem[2:4]) != EthTypeIPv4 ||
		rem[4] != 6 || rem[5] != 4 {
		return
	}
	op := binary.BigEndian.Uint16(rem[6:8])
	if op <= 0xff {
		// The ARP opcode is folded into the IP protocol slot; consumers
		// branch on EthType to know which interpretation applies.
		key.Proto = uint8(op)
	}
	if op == 1 || op == 2 {
		copy(key.HWSrc[:], rem[8:14])
		key.IPv4Src = binary.BigEndian.Uint32(rem[14:18])
		copy(key.HWDst[:], rem[18:24])
		key.IPv4Dst = binary.BigEndian.Uint32(rem[24:28])
	}
}
