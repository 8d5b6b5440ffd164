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

	"github.com/flowplane/flowplane/pkg/nlattr"
	"github.com/flowplane/flowplane/pkg/private/serrors"
)

// Attribute types of the serialized action list. Order on the wire is the
// execution order.
const (
	actionAttrOutput    uint16 = 1  // u32 port
	actionAttrUserspace uint16 = 2  // 12 bytes: reason u32, userdata u64
	actionAttrPushVLAN  uint16 = 3  // u16 TCI
	actionAttrPopVLAN   uint16 = 4  // empty
	actionAttrEthSrc    uint16 = 5  // 6 bytes
	actionAttrEthDst    uint16 = 6  // 6 bytes
	actionAttrIPv4Src   uint16 = 7  // u32
	actionAttrIPv4Dst   uint16 = 8  // u32
	actionAttrToS       uint16 = 9  // u8
	actionAttrTTL       uint16 = 10 // u8
	actionAttrL4Src     uint16 = 11 // u16
	actionAttrL4Dst     uint16 = 12 // u16
	actionAttrSample    uint16 = 13 // nested: probability, actions
)

// Nested attribute types inside actionAttrSample.
const (
	sampleAttrProbability uint16 = 1 // u32
	sampleAttrActions     uint16 = 2 // nested action list
)

// AppendActions serializes the action list onto the builder, preserving
// order. Sample actions nest recursively.
func AppendActions(b *nlattr.Builder, actions []Action) {
	for _, act := range actions {
		switch a := act.(type) {
		case OutputAction:
			b.PutUint32(actionAttrOutput, uint32(a.Port))
		case UserspaceAction:
			var buf [12]byte
			binary.BigEndian.PutUint32(buf[0:4], uint32(a.Reason))
			binary.BigEndian.PutUint64(buf[4:12], a.UserData)
			b.PutBytes(actionAttrUserspace, buf[:])
		case PushVLANAction:
			b.PutUint16(actionAttrPushVLAN, a.TCI)
		case PopVLANAction:
			b.PutEmpty(actionAttrPopVLAN)
		case SetEthSrcAction:
			b.PutBytes(actionAttrEthSrc, a.Addr[:])
		case SetEthDstAction:
			b.PutBytes(actionAttrEthDst, a.Addr[:])
		case SetIPv4SrcAction:
			b.PutUint32(actionAttrIPv4Src, a.Addr)
		case SetIPv4DstAction:
			b.PutUint32(actionAttrIPv4Dst, a.Addr)
		case SetToSAction:
			b.PutUint8(actionAttrToS, a.ToS)
		case SetTTLAction:
			b.PutUint8(actionAttrTTL, a.TTL)
		case SetL4SrcAction:
			b.PutUint16(actionAttrL4Src, a.Port)
		case SetL4DstAction:
			b.PutUint16(actionAttrL4Dst, a.Port)
		case SampleAction:
			b.PutNested(actionAttrSample, func(nb *nlattr.Builder) {
				nb.PutUint32(sampleAttrProbability, a.Probability)
				nb.PutNested(sampleAttrActions, func(ab *nlattr.Builder) {
					AppendActions(ab, a.Actions)
				})
			})
		default:
			panic(serrors.New("unreachable: unknown action type",
				"action", act))
		}
	}
}

// MarshalActions serializes the action list into a fresh attribute buffer.
func MarshalActions(actions []Action) []byte {
	b := nlattr.NewBuilder(64)
	AppendActions(b, actions)
	return b.Bytes()
}

// DecodeActions deserializes an action list. Unknown attribute types and
// malformed payloads yield an error wrapping ErrBadActionEncoding; a partial
// action list is never returned.
func DecodeActions(data []byte) ([]Action, error) {
	var actions []Action
	err := nlattr.ForEach(data, func(typ uint16, value []byte) error {
		act, err := decodeAction(typ, value)
		if err != nil {
			return err
		}
		actions = append(actions, act)
		return nil
	})
	if err != nil {
		return nil, serrors.Join(ErrBadActionEncoding, err)
	}
	return actions, nil
}

func decodeAction(typ uint16, value []byte) (Action, error) {
	switch typ {
	case actionAttrOutput:
		if len(value) != 4 {
			return nil, badActionAttr(typ, len(value))
		}
		return OutputAction{Port: PortID(binary.BigEndian.Uint32(value))}, nil
	case actionAttrUserspace:
		if len(value) != 12 {
			return nil, badActionAttr(typ, len(value))
		}
		reason := binary.BigEndian.Uint32(value[0:4])
		if reason >= uint32(numReasons) {
			return nil, serrors.New("unknown upcall reason", "reason", reason)
		}
		return UserspaceAction{
			Reason:   Reason(reason),
			UserData: binary.BigEndian.Uint64(value[4:12]),
		}, nil
	case actionAttrPushVLAN:
		if len(value) != 2 {
			return nil, badActionAttr(typ, len(value))
		}
		return PushVLANAction{TCI: binary.BigEndian.Uint16(value)}, nil
	case actionAttrPopVLAN:
		if len(value) != 0 {
			return nil, badActionAttr(typ, len(value))
		}
		return PopVLANAction{}, nil
	case actionAttrEthSrc, actionAttrEthDst:
		if len(value) != 6 {
			return nil, badActionAttr(typ, len(value))
		}
		var addr [6]byte
		copy(addr[:], value)
		if typ == actionAttrEthSrc {
			return SetEthSrcAction{Addr: addr}, nil
		}
		return SetEthDstAction{Addr: addr}, nil
	case actionAttrIPv4Src, actionAttrIPv4Dst:
		if len(value) != 4 {
			return nil, badActionAttr(typ, len(value))
		}
		addr := binary.BigEndian.Uint32(value)
		if typ == actionAttrIPv4Src {
			return SetIPv4SrcAction{Addr: addr}, nil
		}
		return SetIPv4DstAction{Addr: addr}, nil
	case actionAttrToS:
		if len(value) != 1 {
			return nil, badActionAttr(typ, len(value))
		}
		return SetToSAction{ToS: value[0]}, nil
	case actionAttrTTL:
		if len(value) != 1 {
			return nil, badActionAttr(typ, len(value))
		}
		return SetTTLAction{TTL: value[0]}, nil
	case actionAttrL4Src:
		if len(value) != 2 {
			return nil, badActionAttr(typ, len(value))
		}
		return SetL4SrcAction{Port: binary.BigEndian.Uint16(value)}, nil
	case actionAttrL4Dst:
		if len(value) != 2 {
			return nil, badActionAttr(typ, len(value))
		}
		return SetL4DstAction{Port: binary.BigEndian.Uint16(value)}, nil
	case actionAttrSample:
		return decodeSample(value)
	default:
		return nil, serrors.New("unknown action attribute", "type", typ)
	}
}

func decodeSample(value []byte) (Action, error) {
	m, err := nlattr.Parse(value)
	if err != nil {
		return nil, err
	}
	prob, err := m.Uint32(sampleAttrProbability)
	if err != nil {
		return nil, err
	}
	rawActions, ok := m[sampleAttrActions]
	if !ok {
		return nil, serrors.New("sample action without nested actions")
	}
	nested, err := DecodeActions(rawActions)
	if err != nil {
		return nil, err
	}
	return SampleAction{Probability: prob, Actions: nested}, nil
}

func badActionAttr(typ uint16, size int) error {
	return serrors.New("bad action payload", "type", typ, "len", size)
}
