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

	"github.com/flowplane/flowplane/pkg/flow"
)

func sampleWildcards() flow.Wildcards {
	w := flow.ExactWildcards()
	w.Flags = flow.WcToS | flow.WcTTL
	w.IPv4Src = 0xffffff00
	w.TunnelID = 0
	return w
}

func TestWildcardsCombine(t *testing.T) {
	exact := flow.ExactWildcards()
	all := flow.CatchallWildcards()
	w := sampleWildcards()

	t.Run("identity", func(t *testing.T) {
		assert.Equal(t, w, w.Combine(exact))
		assert.Equal(t, w, exact.Combine(w))
	})
	t.Run("absorbing", func(t *testing.T) {
		assert.Equal(t, all, w.Combine(all))
		assert.Equal(t, all, all.Combine(w))
		combined := w.Combine(all)
		assert.True(t, combined.IsCatchall())
	})
	t.Run("commutative", func(t *testing.T) {
		o := flow.ExactWildcards()
		o.Flags = flow.WcInPort
		o.IPv4Src = 0xff000000
		assert.Equal(t, o.Combine(w), w.Combine(o))
	})
	t.Run("bits only widen", func(t *testing.T) {
		o := flow.ExactWildcards()
		o.IPv4Src = 0xff000000
		c := w.Combine(o)
		assert.Equal(t, uint32(0xff000000), c.IPv4Src)
		assert.Equal(t, flow.WcToS|flow.WcTTL, c.Flags)
	})
}

func TestWildcardsMatches(t *testing.T) {
	rule := flow.Key{
		InPort:  1,
		EthType: flow.EthTypeIPv4,
		IPv4Src: 0x0a000001, // 10.0.0.1
		IPv4Dst: 0x0a000002,
		Proto:   flow.ProtoTCP,
		L4Dst:   443,
	}

	t.Run("exact", func(t *testing.T) {
		w := flow.ExactWildcards()
		k := rule
		assert.True(t, w.Matches(&k, &rule))
		k.L4Src = 1000
		assert.False(t, w.Matches(&k, &rule))
	})
	t.Run("catchall matches anything", func(t *testing.T) {
		w := flow.CatchallWildcards()
		k := flow.Key{InPort: 42, EthType: flow.EthTypeIPv6, TTL: 1}
		assert.True(t, w.Matches(&k, &rule))
	})
	t.Run("subnet mask", func(t *testing.T) {
		w := flow.ExactWildcards()
		w.IPv4Src = 0xffffff00
		w.Flags |= flow.WcL4Src

		k := rule
		k.IPv4Src = 0x0a0000ff // same /24
		k.L4Src = 9999
		assert.True(t, w.Matches(&k, &rule))

		k.IPv4Src = 0x0a0001ff // different /24
		assert.False(t, w.Matches(&k, &rule))
	})
	t.Run("flagged field ignored", func(t *testing.T) {
		w := flow.ExactWildcards()
		w.Flags |= flow.WcInPort
		k := rule
		k.InPort = 99
		assert.True(t, w.Matches(&k, &rule))
	})
}

func TestWildcardsIsCatchall(t *testing.T) {
	w := flow.CatchallWildcards()
	assert.True(t, w.IsCatchall())
	w.IPv4Dst = 1
	assert.False(t, w.IsCatchall())
	e := flow.ExactWildcards()
	assert.False(t, e.IsCatchall())
}
