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

// Package flow defines the canonical in-memory representation of a packet's
// header fields (the flow key), the wildcard mask mechanism used for
// classification, and the packet parser that produces a key from a raw frame.
package flow

import (
	"fmt"
	"net/netip"
)

// Well-known ethertypes the parser and interpreter care about.
const (
	EthTypeIPv4 uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
	EthTypeVLAN uint16 = 0x8100
	EthTypeIPv6 uint16 = 0x86dd

	// EthTypeNone marks frames with no resolvable ethertype (raw 802.2).
	// The value is below 0x0600 and therefore can never appear on the wire
	// as a real ethertype.
	EthTypeNone uint16 = 0x05ff
)

// IP protocol numbers.
const (
	ProtoICMP   uint8 = 1
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
)

// VLAN tag-control-info bits. VLANPresent doubles as the presence marker in
// Key.VLANTCI: an untagged frame has VLANTCI == 0, a tagged frame always has
// the bit set, so VID 0 with priority 0 remains distinguishable from
// "no tag".
const (
	VLANPresent uint16 = 0x1000
	VLANVIDMask uint16 = 0x0fff
	VLANPCPMask uint16 = 0xe000
	VLANPCPShift       = 13
)

// FragFlags describes the fragmentation state of an IP packet. First and
// later fragments are distinguished via two independent bits: a first
// fragment carries only FragAny, a non-initial fragment carries both.
type FragFlags uint8

const (
	// FragAny is set if the packet is any kind of fragment.
	FragAny FragFlags = 1 << 0
	// FragLater is set if the packet is a fragment with nonzero offset.
	FragLater FragFlags = 1 << 1
)

// NumRegs is the number of general-purpose register words carried in a key.
const NumRegs = 4

// Key is the canonical representation of a packet's header fields plus its
// ingress metadata. It is a plain comparable value: two keys are the same
// flow if and only if they are ==. All fields are significant for hashing and
// comparison; fields that a given packet does not have stay zero.
//
// Proto holds the IP protocol number for IPv4/IPv6 packets and the low 8 bits
// of the opcode for ARP packets; EthType tells consumers which interpretation
// applies. HWSrc/HWDst are likewise shared between ARP sender/target hardware
// addresses and the ICMPv6 neighbor discovery link-layer address options.
type Key struct {
	TunnelID  uint64            // encapsulating tunnel ID, 0 if none
	IPv6Src   [16]byte          // IPv6 source address
	IPv6Dst   [16]byte          // IPv6 destination address
	NDTarget  [16]byte          // IPv6 neighbor discovery target
	Priority  uint32            // ingress QoS priority
	Regs      [NumRegs]uint32   // scratch registers, never set by the parser
	IPv4Src   uint32            // IPv4 source address
	IPv4Dst   uint32            // IPv4 destination address
	IPv6Label uint32            // IPv6 flow label, low 20 bits
	InPort    uint32            // ingress port index
	VLANTCI   uint16            // VLAN TCI with VLANPresent set, 0 if untagged
	EthType   uint16            // ethernet frame type, or EthTypeNone
	L4Src     uint16            // TCP/UDP source port, or ICMP type
	L4Dst     uint16            // TCP/UDP destination port, or ICMP code
	EthSrc    [6]byte           // ethernet source address
	EthDst    [6]byte           // ethernet destination address
	HWSrc     [6]byte           // ARP sender / ND source link-layer address
	HWDst     [6]byte           // ARP target / ND target link-layer address
	Proto     uint8             // IP protocol, or low 8 bits of ARP opcode
	ToS       uint8             // IP type of service
	TTL       uint8             // IP TTL / hop limit
	Frag      FragFlags         // fragmentation state
}

// VLANID returns the 12-bit VLAN ID, or 0 if the frame is untagged.
func (k *Key) VLANID() uint16 {
	return k.VLANTCI & VLANVIDMask
}

// VLANPCP returns the 3-bit VLAN priority, or 0 if the frame is untagged.
func (k *Key) VLANPCP() uint8 {
	return uint8((k.VLANTCI & VLANPCPMask) >> VLANPCPShift)
}

// IsFragment returns whether the packet is any kind of IP fragment.
func (k *Key) IsFragment() bool {
	return k.Frag&FragAny != 0
}

// IsLaterFragment returns whether the packet is a non-initial fragment, i.e.
// one whose L4 header is not present.
func (k *Key) IsLaterFragment() bool {
	return k.Frag&FragLater != 0
}

// String renders the key compactly for logs. Only fields relevant for the
// frame type are included.
func (k *Key) String() string {
	s := fmt.Sprintf("in_port=%d,dl_src=%x,dl_dst=%x,dl_type=0x%04x",
		k.InPort, k.EthSrc, k.EthDst, k.EthType)
	if k.VLANTCI != 0 {
		s += fmt.Sprintf(",vlan=%d,pcp=%d", k.VLANID(), k.VLANPCP())
	}
	switch k.EthType {
	case EthTypeIPv4:
		s += fmt.Sprintf(",nw_src=%s,nw_dst=%s,nw_proto=%d,nw_tos=%d,ttl=%d",
			v4String(k.IPv4Src), v4String(k.IPv4Dst), k.Proto, k.ToS, k.TTL)
	case EthTypeIPv6:
		s += fmt.Sprintf(",ipv6_src=%s,ipv6_dst=%s,nw_proto=%d,label=0x%x",
			netip.AddrFrom16(k.IPv6Src), netip.AddrFrom16(k.IPv6Dst), k.Proto, k.IPv6Label)
	case EthTypeARP:
		s += fmt.Sprintf(",arp_op=%d,arp_spa=%s,arp_tpa=%s",
			k.Proto, v4String(k.IPv4Src), v4String(k.IPv4Dst))
	}
	if k.L4Src != 0 || k.L4Dst != 0 {
		s += fmt.Sprintf(",tp_src=%d,tp_dst=%d", k.L4Src, k.L4Dst)
	}
	if k.Frag != 0 {
		s += fmt.Sprintf(",frag=%d", k.Frag)
	}
	return s
}

func v4String(a uint32) string {
	return netip.AddrFrom4([4]byte{
		byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a),
	}).String()
}
