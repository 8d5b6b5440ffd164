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

// WildcardFlags is a bit set of key fields that are wildcarded in their
// entirety. A set bit means "ignore this field".
type WildcardFlags uint32

const (
	WcPriority WildcardFlags = 1 << iota
	WcInPort
	WcEthType
	WcL4Src
	WcL4Dst
	WcEthSrc
	WcEthDst
	WcHWSrc
	WcHWDst
	WcProto
	WcToS
	WcTTL
	WcFrag

	wcAll = WildcardFlags(1<<iota) - 1
)

// Wildcards specifies which bits of a Key a rule cares about. The bitmask
// fields cover key fields that support finer-than-field wildcarding; their
// semantics are inverted relative to Flags: a 1-bit in a mask means "this bit
// must match exactly". All remaining fields are wildcarded whole-field via
// Flags.
//
// A Wildcards value is comparable; two values are the same mask iff they
// are ==.
type Wildcards struct {
	Flags     WildcardFlags
	TunnelID  uint64
	IPv6Src   [16]byte
	IPv6Dst   [16]byte
	NDTarget  [16]byte
	Regs      [NumRegs]uint32
	IPv4Src   uint32
	IPv4Dst   uint32
	IPv6Label uint32
	VLANTCI   uint16
}

// ExactWildcards returns the mask that wildcards nothing: every field of a
// key must match exactly.
func ExactWildcards() Wildcards {
	w := Wildcards{
		TunnelID:  ^uint64(0),
		IPv4Src:   ^uint32(0),
		IPv4Dst:   ^uint32(0),
		IPv6Label: ^uint32(0),
		VLANTCI:   ^uint16(0),
	}
	for i := range w.IPv6Src {
		w.IPv6Src[i] = 0xff
		w.IPv6Dst[i] = 0xff
		w.NDTarget[i] = 0xff
	}
	for i := range w.Regs {
		w.Regs[i] = ^uint32(0)
	}
	return w
}

// CatchallWildcards returns the mask that wildcards everything: it matches
// every packet.
func CatchallWildcards() Wildcards {
	return Wildcards{Flags: wcAll}
}

// IsCatchall returns whether the mask matches every packet.
func (w *Wildcards) IsCatchall() bool {
	return *w == CatchallWildcards()
}

// Combine returns the union of the wildcards of w and o: the result
// wildcards every bit that either input wildcards. Combine is associative
// and commutative; combining with CatchallWildcards yields
// CatchallWildcards, combining with ExactWildcards yields the other operand
// unchanged.
func (w Wildcards) Combine(o Wildcards) Wildcards {
	r := Wildcards{
		Flags:     w.Flags | o.Flags,
		TunnelID:  w.TunnelID & o.TunnelID,
		IPv4Src:   w.IPv4Src & o.IPv4Src,
		IPv4Dst:   w.IPv4Dst & o.IPv4Dst,
		IPv6Label: w.IPv6Label & o.IPv6Label,
		VLANTCI:   w.VLANTCI & o.VLANTCI,
	}
	for i := range r.IPv6Src {
		r.IPv6Src[i] = w.IPv6Src[i] & o.IPv6Src[i]
		r.IPv6Dst[i] = w.IPv6Dst[i] & o.IPv6Dst[i]
		r.NDTarget[i] = w.NDTarget[i] & o.NDTarget[i]
	}
	for i := range r.Regs {
		r.Regs[i] = w.Regs[i] & o.Regs[i]
	}
	return r
}

// Matches reports whether packet key k matches rule key under the mask.
// Masked bits and flagged fields are ignored; everything else must be equal.
func (w *Wildcards) Matches(k, rule *Key) bool {
	if k.TunnelID&w.TunnelID != rule.TunnelID&w.TunnelID {
		return false
	}
	for i := 0; i < 16; i++ {
		if k.IPv6Src[i]&w.IPv6Src[i] != rule.IPv6Src[i]&w.IPv6Src[i] {
			return false
		}
		if k.IPv6Dst[i]&w.IPv6Dst[i] != rule.IPv6Dst[i]&w.IPv6Dst[i] {
			return false
		}
		if k.NDTarget[i]&w.NDTarget[i] != rule.NDTarget[i]&w.NDTarget[i] {
			return false
		}
	}
	for i := range w.Regs {
		if k.Regs[i]&w.Regs[i] != rule.Regs[i]&w.Regs[i] {
			return false
		}
	}
	if k.IPv4Src&w.IPv4Src != rule.IPv4Src&w.IPv4Src {
		return false
	}
	if k.IPv4Dst&w.IPv4Dst != rule.IPv4Dst&w.IPv4Dst {
		return false
	}
	if k.IPv6Label&w.IPv6Label != rule.IPv6Label&w.IPv6Label {
		return false
	}
	if k.VLANTCI&w.VLANTCI != rule.VLANTCI&w.VLANTCI {
		return false
	}
	f := w.Flags
	switch {
	case f&WcPriority == 0 && k.Priority != rule.Priority:
		return false
	case f&WcInPort == 0 && k.InPort != rule.InPort:
		return false
	case f&WcEthType == 0 && k.EthType != rule.EthType:
		return false
	case f&WcL4Src == 0 && k.L4Src != rule.L4Src:
		return false
	case f&WcL4Dst == 0 && k.L4Dst != rule.L4Dst:
		return false
	case f&WcEthSrc == 0 && k.EthSrc != rule.EthSrc:
		return false
	case f&WcEthDst == 0 && k.EthDst != rule.EthDst:
		return false
	case f&WcHWSrc == 0 && k.HWSrc != rule.HWSrc:
		return false
	case f&WcHWDst == 0 && k.HWDst != rule.HWDst:
		return false
	case f&WcProto == 0 && k.Proto != rule.Proto:
		return false
	case f&WcToS == 0 && k.ToS != rule.ToS:
		return false
	case f&WcTTL == 0 && k.TTL != rule.TTL:
		return false
	case f&WcFrag == 0 && k.Frag != rule.Frag:
		return false
	}
	return true
}
