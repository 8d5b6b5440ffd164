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

	"github.com/flowplane/flowplane/pkg/nlattr"
	"github.com/flowplane/flowplane/pkg/private/serrors"
)

// ErrBadKeyEncoding is returned when a serialized key cannot be decoded.
// This is the protocol-corruption error class: control and data plane
// disagree on the encoding and the operation must not proceed.
var ErrBadKeyEncoding = errors.New("bad flow key encoding")

// Attribute types of the serialized key. One attribute per header the packet
// carried; attributes for absent headers are omitted. The ingress priority is
// deliberately not part of the wire form.
const (
	keyAttrInPort   uint16 = 1  // u32
	keyAttrEthernet uint16 = 2  // 12 bytes: dst, src
	keyAttrVLAN     uint16 = 3  // u16 TCI, only present for tagged frames
	keyAttrEthType  uint16 = 4  // u16
	keyAttrIPv4     uint16 = 5  // 12 bytes: src, dst, proto, tos, ttl, frag
	keyAttrIPv6     uint16 = 6  // 40 bytes: src, dst, label, proto, tos, ttl, frag
	keyAttrTCP      uint16 = 7  // 4 bytes: src, dst
	keyAttrUDP      uint16 = 8  // 4 bytes: src, dst
	keyAttrICMP     uint16 = 9  // 2 bytes: type, code
	keyAttrICMPv6   uint16 = 10 // 2 bytes: type, code
	keyAttrARP      uint16 = 11 // 22 bytes: sip, tip, op, sha, tha
	keyAttrND       uint16 = 12 // 28 bytes: target, sll, tll
	keyAttrTunnelID uint16 = 13 // u64, omitted when zero
	keyAttrRegs     uint16 = 14 // NumRegs * 4 bytes, omitted when all zero
)

// AppendAttrs serializes the key onto the builder as an ordered attribute
// sequence. The encoding omits the priority and attributes for headers the
// key does not describe; DecodeAttrs inverts it.
func (k *Key) AppendAttrs(b *nlattr.Builder) {
	if k.TunnelID != 0 {
		b.PutUint64(keyAttrTunnelID, k.TunnelID)
	}
	if k.Regs != ([NumRegs]uint32{}) {
		regs := make([]byte, NumRegs*4)
		for i, r := range k.Regs {
			binary.BigEndian.PutUint32(regs[i*4:], r)
		}
		b.PutBytes(keyAttrRegs, regs)
	}
	b.PutUint32(keyAttrInPort, k.InPort)
	var eth [12]byte
	copy(eth[0:6], k.EthDst[:])
	copy(eth[6:12], k.EthSrc[:])
	b.PutBytes(keyAttrEthernet, eth[:])
	if k.VLANTCI != 0 {
		b.PutUint16(keyAttrVLAN, k.VLANTCI)
	}
	b.PutUint16(keyAttrEthType, k.EthType)

	switch k.EthType {
	case EthTypeIPv4:
		var v4 [12]byte
		binary.BigEndian.PutUint32(v4[0:4], k.IPv4Src)
		binary.BigEndian.PutUint32(v4[4:8], k.IPv4Dst)
		v4[8] = k.Proto
		v4[9] = k.ToS
		v4[10] = k.TTL
		v4[11] = byte(k.Frag)
		b.PutBytes(keyAttrIPv4, v4[:])
	case EthTypeIPv6:
		var v6 [40]byte
		copy(v6[0:16], k.IPv6Src[:])
		copy(v6[16:32], k.IPv6Dst[:])
		binary.BigEndian.PutUint32(v6[32:36], k.IPv6Label)
		v6[36] = k.Proto
		v6[37] = k.ToS
		v6[38] = k.TTL
		v6[39] = byte(k.Frag)
		b.PutBytes(keyAttrIPv6, v6[:])
	case EthTypeARP:
		var arp [22]byte
		binary.BigEndian.PutUint32(arp[0:4], k.IPv4Src)
		binary.BigEndian.PutUint32(arp[4:8], k.IPv4Dst)
		binary.BigEndian.PutUint16(arp[8:10], uint16(k.Proto))
		copy(arp[10:16], k.HWSrc[:])
		copy(arp[16:22], k.HWDst[:])
		b.PutBytes(keyAttrARP, arp[:])
		return
	default:
		return
	}

	if k.IsLaterFragment() {
		return
	}
	switch k.Proto {
	case ProtoTCP, ProtoUDP:
		var l4 [4]byte
		binary.BigEndian.PutUint16(l4[0:2], k.L4Src)
		binary.BigEndian.PutUint16(l4[2:4], k.L4Dst)
		if k.Proto == ProtoTCP {
			b.PutBytes(keyAttrTCP, l4[:])
		} else {
			b.PutBytes(keyAttrUDP, l4[:])
		}
	case ProtoICMP:
		b.PutBytes(keyAttrICMP, []byte{byte(k.L4Src), byte(k.L4Dst)})
	case ProtoICMPv6:
		b.PutBytes(keyAttrICMPv6, []byte{byte(k.L4Src), byte(k.L4Dst)})
		if k.L4Src == ndNeighborSolicit || k.L4Src == ndNeighborAdvert {
			var nd [28]byte
			copy(nd[0:16], k.NDTarget[:])
			copy(nd[16:22], k.HWSrc[:])
			copy(nd[22:28], k.HWDst[:])
			b.PutBytes(keyAttrND, nd[:])
		}
	}
}

// MarshalAttrs serializes the key into a fresh attribute buffer.
func (k *Key) MarshalAttrs() []byte {
	b := nlattr.NewBuilder(128)
	k.AppendAttrs(b)
	return b.Bytes()
}

// DecodeAttrs deserializes a key from its attribute form. Unknown attribute
// types and malformed payloads yield an error wrapping ErrBadKeyEncoding.
// The decoded key has zero priority.
func DecodeAttrs(data []byte, k *Key) error {
	*k = Key{}
	err := nlattr.ForEach(data, func(typ uint16, value []byte) error {
		switch typ {
		case keyAttrTunnelID:
			if len(value) != 8 {
				return badAttr(typ, len(value))
			}
			k.TunnelID = binary.BigEndian.Uint64(value)
		case keyAttrRegs:
			if len(value) != NumRegs*4 {
				return badAttr(typ, len(value))
			}
			for i := range k.Regs {
				k.Regs[i] = binary.BigEndian.Uint32(value[i*4:])
			}
		case keyAttrInPort:
			if len(value) != 4 {
				return badAttr(typ, len(value))
			}
			k.InPort = binary.BigEndian.Uint32(value)
		case keyAttrEthernet:
			if len(value) != 12 {
				return badAttr(typ, len(value))
			}
			copy(k.EthDst[:], value[0:6])
			copy(k.EthSrc[:], value[6:12])
		case keyAttrVLAN:
			if len(value) != 2 {
				return badAttr(typ, len(value))
			}
			k.VLANTCI = binary.BigEndian.Uint16(value)
		case keyAttrEthType:
			if len(value) != 2 {
				return badAttr(typ, len(value))
			}
			k.EthType = binary.BigEndian.Uint16(value)
		case keyAttrIPv4:
			if len(value) != 12 {
				return badAttr(typ, len(value))
			}
			k.IPv4Src = binary.BigEndian.Uint32(value[0:4])
			k.IPv4Dst = binary.BigEndian.Uint32(value[4:8])
			k.Proto = value[8]
			k.ToS = value[9]
			k.TTL = value[10]
			k.Frag = FragFlags(value[11])
		case keyAttrIPv6:
			if len(value) != 40 {
				return badAttr(typ, len(value))
			}
			copy(k.IPv6Src[:], value[0:16])
			copy(k.IPv6Dst[:], value[16:32])
			k.IPv6Label = binary.BigEndian.Uint32(value[32:36])
			k.Proto = value[36]
			k.ToS = value[37]
			k.TTL = value[38]
			k.Frag = FragFlags(value[39])
		case keyAttrTCP, keyAttrUDP:
			if len(value) != 4 {
				return badAttr(typ, len(value))
			}
			k.L4Src = binary.BigEndian.Uint16(value[0:2])
			k.L4Dst = binary.BigEndian.Uint16(value[2:4])
		case keyAttrICMP, keyAttrICMPv6:
			if len(value) != 2 {
				return badAttr(typ, len(value))
			}
			k.L4Src = uint16(value[0])
			k.L4Dst = uint16(value[1])
		case keyAttrARP:
			if len(value) != 22 {
				return badAttr(typ, len(value))
			}
			k.IPv4Src = binary.BigEndian.Uint32(value[0:4])
			k.IPv4Dst = binary.BigEndian.Uint32(value[4:8])
			k.Proto = uint8(binary.BigEndian.Uint16(value[8:10]))
			copy(k.HWSrc[:], value[10:16])
			copy(k.HWDst[:], value[16:22])
		case keyAttrND:
			if len(value) != 28 {
				return badAttr(typ, len(value))
			}
			copy(k.NDTarget[:], value[0:16])
			copy(k.HWSrc[:], value[16:22])
			copy(k.HWDst[:], value[22:28])
		default:
			return serrors.Join(ErrBadKeyEncoding, nil, "reason", "unknown attribute", "type", typ)
		}
		return nil
	})
	if err != nil {
		return serrors.Join(ErrBadKeyEncoding, err)
	}
	return nil
}

func badAttr(typ uint16, size int) error {
	return serrors.New("bad attribute payload", "type", typ, "len", size)
}
