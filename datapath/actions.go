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
	"encoding/binary"

	"github.com/flowplane/flowplane/pkg/flow"
	"github.com/flowplane/flowplane/pkg/private/serrors"
)

// Action is one step of a flow's action list. The concrete types below are
// the only implementations; an action list reaching the interpreter with
// anything else is protocol corruption and stops the process.
type Action interface {
	isAction()
}

type (
	// OutputAction transmits the current packet bytes out a port. A port
	// that no longer exists is not an error at execution time: flows
	// outlive ports, the packet is simply dropped.
	OutputAction struct{ Port PortID }

	// UserspaceAction punts a copy of the packet, along with its
	// pre-mutation key and the opaque user data, to the control plane.
	UserspaceAction struct {
		Reason   Reason
		UserData uint64
	}

	// PushVLANAction inserts an 802.1Q tag directly after the MAC
	// addresses. The canonical-format bit of the supplied TCI is reserved
	// and ignored.
	PushVLANAction struct{ TCI uint16 }

	// PopVLANAction removes the 802.1Q tag, restoring the original
	// ethertype. A no-op on untagged frames.
	PopVLANAction struct{}

	// SetEthSrcAction rewrites the ethernet source address.
	SetEthSrcAction struct{ Addr [6]byte }
	// SetEthDstAction rewrites the ethernet destination address.
	SetEthDstAction struct{ Addr [6]byte }
	// SetIPv4SrcAction rewrites the IPv4 source address.
	SetIPv4SrcAction struct{ Addr uint32 }
	// SetIPv4DstAction rewrites the IPv4 destination address.
	SetIPv4DstAction struct{ Addr uint32 }
	// SetToSAction rewrites the IPv4 type-of-service byte.
	SetToSAction struct{ ToS uint8 }
	// SetTTLAction rewrites the IPv4 TTL.
	SetTTLAction struct{ TTL uint8 }
	// SetL4SrcAction rewrites the TCP/UDP source port.
	SetL4SrcAction struct{ Port uint16 }
	// SetL4DstAction rewrites the TCP/UDP destination port.
	SetL4DstAction struct{ Port uint16 }

	// SampleAction executes the nested actions with the given probability,
	// drawn independently per packet. Probability is a threshold over the
	// full uint32 range: 0 never samples, 1<<32 - 1 nearly always.
	SampleAction struct {
		Probability uint32
		Actions     []Action
	}
)

func (OutputAction) isAction()     {}
func (UserspaceAction) isAction()  {}
func (PushVLANAction) isAction()   {}
func (PopVLANAction) isAction()    {}
func (SetEthSrcAction) isAction()  {}
func (SetEthDstAction) isAction()  {}
func (SetIPv4SrcAction) isAction() {}
func (SetIPv4DstAction) isAction() {}
func (SetToSAction) isAction()     {}
func (SetTTLAction) isAction()     {}
func (SetL4SrcAction) isAction()   {}
func (SetL4DstAction) isAction()   {}
func (SampleAction) isAction()     {}

// executeActions runs the action list on the packet in order. It mutates the
// packet buffer in place and may transmit it, possibly several times and
// possibly after further mutation; key is the pre-mutation flow key and is
// what upcalls carry.
func (d *Datapath) executeActions(pkt *Packet, key *flow.Key, actions []Action) {
	for _, act := range actions {
		switch a := act.(type) {
		case OutputAction:
			d.output(pkt, a.Port)
		case UserspaceAction:
			d.punt(a.Reason, key, pkt.Data(), a.UserData)
		case PushVLANAction:
			pushVLAN(pkt, a.TCI)
		case PopVLANAction:
			popVLAN(pkt)
		case SetEthSrcAction:
			if data := pkt.Data(); len(data) >= ethHeaderLen {
				copy(data[6:12], a.Addr[:])
			}
		case SetEthDstAction:
			if data := pkt.Data(); len(data) >= ethHeaderLen {
				copy(data[0:6], a.Addr[:])
			}
		case SetIPv4SrcAction:
			setIPv4Addr(pkt, key, 12, a.Addr)
		case SetIPv4DstAction:
			setIPv4Addr(pkt, key, 16, a.Addr)
		case SetToSAction:
			setIPv4ToS(pkt, key, a.ToS)
		case SetTTLAction:
			setIPv4TTL(pkt, key, a.TTL)
		case SetL4SrcAction:
			setL4Port(pkt, key, 0, a.Port)
		case SetL4DstAction:
			setL4Port(pkt, key, 2, a.Port)
		case SampleAction:
			if d.sampleU32() < a.Probability {
				d.executeActions(pkt, key, a.Actions)
			}
		default:
			// A decoded action list can only contain the types above. This
			// is a control/data plane protocol mismatch; dropping the
			// action silently would hide it.
			panic(serrors.New("unreachable: unknown action type",
				"action", act))
		}
	}
}

const ethHeaderLen = 14

// pushVLAN inserts an 802.1Q tag after the MAC addresses. The reserved CFI
// bit of the caller's TCI is masked off.
func pushVLAN(pkt *Packet, tci uint16) {
	if pkt.Len() < ethHeaderLen {
		return
	}
	data := pkt.insert(12, 4)
	binary.BigEndian.PutUint16(data[12:14], flow.EthTypeVLAN)
	binary.BigEndian.PutUint16(data[14:16], tci&^flow.VLANPresent)
}

// popVLAN removes the 802.1Q tag if one is present. The bytes following the
// tag already hold the encapsulated ethertype, so removing the tag restores
// it.
func popVLAN(pkt *Packet) {
	data := pkt.Data()
	if len(data) < ethHeaderLen+4 ||
		binary.BigEndian.Uint16(data[12:14]) != flow.EthTypeVLAN {
		return
	}
	pkt.remove(12, 4)
}

// setIPv4Addr rewrites the IPv4 source (fieldOff 12) or destination
// (fieldOff 16) address, adjusting the IP header checksum and, where
// present, the TCP/UDP checksum covering the pseudo header.
func setIPv4Addr(pkt *Packet, key *flow.Key, fieldOff int, addr uint32) {
	if key.EthType != flow.EthTypeIPv4 {
		return
	}
	l3 := pkt.l3()
	if len(l3) < ipv4MinHeaderLen {
		return
	}
	old := binary.BigEndian.Uint32(l3[fieldOff : fieldOff+4])
	binary.BigEndian.PutUint32(l3[fieldOff:], addr)
	updateCsumAt32(l3, 10, old, addr)
	updateL4CsumFor32(pkt, key, old, addr)
}

const ipv4MinHeaderLen = 20

// setIPv4ToS rewrites the ToS byte. The ToS lives in the first 16-bit word
// of the IP header; it is not part of the L4 pseudo header, so only the IP
// checksum changes.
func setIPv4ToS(pkt *Packet, key *flow.Key, tos uint8) {
	if key.EthType != flow.EthTypeIPv4 {
		return
	}
	l3 := pkt.l3()
	if len(l3) < ipv4MinHeaderLen {
		return
	}
	old := binary.BigEndian.Uint16(l3[0:2])
	l3[1] = tos
	updateCsumAt(l3, 10, old, binary.BigEndian.Uint16(l3[0:2]))
}

// setIPv4TTL rewrites the TTL, which shares a 16-bit word with the protocol
// byte. Only the IP checksum changes.
func setIPv4TTL(pkt *Packet, key *flow.Key, ttl uint8) {
	if key.EthType != flow.EthTypeIPv4 {
		return
	}
	l3 := pkt.l3()
	if len(l3) < ipv4MinHeaderLen {
		return
	}
	old := binary.BigEndian.Uint16(l3[8:10])
	l3[8] = ttl
	updateCsumAt(l3, 10, old, binary.BigEndian.Uint16(l3[8:10]))
}

// setL4Port rewrites the TCP/UDP source (fieldOff 0) or destination
// (fieldOff 2) port, adjusting the transport checksum.
func setL4Port(pkt *Packet, key *flow.Key, fieldOff int, port uint16) {
	l4 := pkt.l4()
	switch key.Proto {
	case flow.ProtoTCP:
		if len(l4) < tcpHeaderLen {
			return
		}
		old := binary.BigEndian.Uint16(l4[fieldOff : fieldOff+2])
		binary.BigEndian.PutUint16(l4[fieldOff:], port)
		updateCsumAt(l4, 16, old, port)
	case flow.ProtoUDP:
		if len(l4) < udpHeaderLen {
			return
		}
		old := binary.BigEndian.Uint16(l4[fieldOff : fieldOff+2])
		binary.BigEndian.PutUint16(l4[fieldOff:], port)
		updateUDPCsum16(l4, old, port)
	}
}

const (
	tcpHeaderLen = 20
	udpHeaderLen = 8
)

// updateL4CsumFor32 adjusts the transport checksum for a changed 32-bit
// pseudo-header value (an IPv4 address).
func updateL4CsumFor32(pkt *Packet, key *flow.Key, old, new uint32) {
	// Non-initial fragments carry no transport header; for those pkt.l4()
	// is nil and there is nothing to maintain.
	l4 := pkt.l4()
	switch key.Proto {
	case flow.ProtoTCP:
		if len(l4) >= tcpHeaderLen {
			updateCsumAt32(l4, 16, old, new)
		}
	case flow.ProtoUDP:
		if len(l4) >= udpHeaderLen {
			c := binary.BigEndian.Uint16(l4[6:8])
			if c == 0 {
				// Checksum disabled; nothing to maintain.
				return
			}
			c = csumUpdate32(c, old, new)
			if c == 0 {
				// Transmitted zero means "no checksum"; the one's
				// complement representation of zero is 0xffff.
				c = 0xffff
			}
			binary.BigEndian.PutUint16(l4[6:8], c)
		}
	}
}

// updateUDPCsum16 adjusts a UDP checksum for a changed 16-bit field,
// honoring the disabled-checksum convention.
func updateUDPCsum16(l4 []byte, old, new uint16) {
	c := binary.BigEndian.Uint16(l4[6:8])
	if c == 0 {
		return
	}
	c = csumUpdate16(c, old, new)
	if c == 0 {
		c = 0xffff
	}
	binary.BigEndian.PutUint16(l4[6:8], c)
}
