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
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowplane/flowplane/pkg/flow"
	"github.com/flowplane/flowplane/pkg/log"
	"github.com/flowplane/flowplane/pkg/private/serrors"
)

const (
	defaultMaxFlows  = 65536
	defaultQueueLen  = 128
	pollBatchPerPort = 32
)

// Config holds the construction parameters of one datapath.
type Config struct {
	// Name identifies the datapath in logs and metrics.
	Name string
	// MaxFlows bounds the flow table.
	MaxFlows int
	// UpcallQueueLen is the per-reason upcall ring capacity, rounded up to a
	// power of two.
	UpcallQueueLen int
	// Metrics receives the datapath's counters. May be nil.
	Metrics *Metrics
}

// InitDefaults fills unset fields with default values.
func (c *Config) InitDefaults() {
	if c.Name == "" {
		c.Name = "dp0"
	}
	if c.MaxFlows == 0 {
		c.MaxFlows = defaultMaxFlows
	}
	if c.UpcallQueueLen == 0 {
		c.UpcallQueueLen = defaultQueueLen
	}
}

// Stats is an aggregate snapshot of one datapath.
type Stats struct {
	Hits     uint64 // packets matched by an installed flow
	Misses   uint64 // packets punted to userspace for lack of a flow
	Lost     uint64 // upcalls dropped because their queue was full
	Flows    int    // currently installed flows
	MaxFlows int
	Ports    int
}

// Datapath is one forwarding instance: a set of ports, an exact-match flow
// table and the upcall queues toward the controlling process.
//
// Packet processing runs on the single goroutine that entered Run. The mutex
// serializes control operations (port and flow changes, Execute, dumps) with
// that goroutine; flow statistics use atomics so dumps can read them without
// stalling forwarding.
type Datapath struct {
	name string
	log  log.Logger

	mtx     sync.Mutex
	ports   portSet
	table   *Table
	serial  atomic.Uint64
	running atomic.Bool

	upcalls *upcallQueue
	hits    atomic.Uint64
	misses  atomic.Uint64
	metrics *Metrics

	// wake carries one token when any port may have frames pending.
	wake chan struct{}

	// sampleU32 draws the random value compared against a sample action's
	// probability threshold. Replaceable in tests.
	sampleU32 func() uint32
}

// New creates an idle datapath. Ports and flows can be added before or after
// Run is entered.
func New(cfg Config) *Datapath {
	cfg.InitDefaults()
	return &Datapath{
		name:      cfg.Name,
		log:       log.New("datapath", cfg.Name),
		ports:     newPortSet(),
		table:     NewTable(cfg.MaxFlows),
		upcalls:   newUpcallQueue(cfg.UpcallQueueLen),
		metrics:   cfg.Metrics,
		wake:      make(chan struct{}, 1),
		sampleU32: rand.Uint32,
	}
}

// Name returns the datapath's name.
func (d *Datapath) Name() string {
	return d.name
}

// AddPort attaches dev under the given name. id selects the port index;
// PortIDAny picks the lowest free one. The returned port is owned by the
// datapath until DelPort.
func (d *Datapath) AddPort(name string, dev Device, id PortID, internal bool) (*Port, error) {
	if name == "" {
		return nil, serrors.New("empty port name")
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if _, taken := d.ports.byName[name]; taken {
		return nil, ErrPortNameTaken
	}
	pid, err := d.ports.pickID(id)
	if err != nil {
		return nil, err
	}
	p := &Port{
		ID:       pid,
		Name:     name,
		Internal: internal,
		dev:      dev,
		stop:     make(chan struct{}),
	}
	d.ports.add(p)
	d.serial.Add(1)
	go func() {
		defer log.HandlePanic()
		d.watchPort(p)
	}()
	d.log.Info("Port added", "port", pid, "name", name)
	d.kick()
	return p, nil
}

// DelPort detaches the port and closes its device. The index becomes
// available for reuse.
func (d *Datapath) DelPort(id PortID) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	p, ok := d.ports.byID[id]
	if !ok {
		return ErrNotFound
	}
	close(p.stop)
	d.ports.del(p)
	d.serial.Add(1)
	if err := p.dev.Close(); err != nil {
		d.log.Error("Closing port device", "port", id, "err", err)
	}
	d.log.Info("Port removed", "port", id, "name", p.Name)
	return nil
}

// PortByID returns the port at the given index.
func (d *Datapath) PortByID(id PortID) (*Port, bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	p, ok := d.ports.byID[id]
	return p, ok
}

// PortByName returns the port with the given name.
func (d *Datapath) PortByName(name string) (*Port, bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	p, ok := d.ports.byName[name]
	return p, ok
}

// Ports returns a snapshot of the attached ports in ascending index order.
func (d *Datapath) Ports() []*Port {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	out := make([]*Port, len(d.ports.order))
	copy(out, d.ports.order)
	return out
}

// Serial returns the port set's change counter. It increments on every port
// addition and removal, so a cached port list is stale iff the serial moved.
func (d *Datapath) Serial() uint64 {
	return d.serial.Load()
}

// ChangedSince reports whether the port set changed after the given serial
// was observed.
func (d *Datapath) ChangedSince(serial uint64) bool {
	return d.serial.Load() != serial
}

// watchPort forwards the device's readiness tokens into the run loop's wake
// channel until the port is deleted.
func (d *Datapath) watchPort(p *Port) {
	ready := p.dev.Ready()
	for {
		select {
		case <-p.stop:
			return
		case <-ready:
			d.kick()
		}
	}
}

func (d *Datapath) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// FlowPut installs or modifies a flow. The key and the actions arrive in
// attribute encoding; see PutFlags for the create/modify semantics. The
// returned snapshot holds the prior statistics of a modified flow.
func (d *Datapath) FlowPut(keyAttrs, actionAttrs []byte, flags PutFlags) (FlowStats, error) {
	var k flow.Key
	if err := flow.DecodeAttrs(keyAttrs, &k); err != nil {
		return FlowStats{}, err
	}
	actions, err := DecodeActions(actionAttrs)
	if err != nil {
		return FlowStats{}, err
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	stats, err := d.table.Put(&k, actions, flags)
	if err != nil {
		return FlowStats{}, err
	}
	d.metrics.SetFlows(d.name, d.table.Len())
	return stats, nil
}

// FlowGet returns the statistics and the encoded action list of the flow for
// the given encoded key.
func (d *Datapath) FlowGet(keyAttrs []byte) (FlowStats, []byte, error) {
	var k flow.Key
	if err := flow.DecodeAttrs(keyAttrs, &k); err != nil {
		return FlowStats{}, nil, err
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	e, ok := d.table.Lookup(&k)
	if !ok {
		return FlowStats{}, nil, ErrNotFound
	}
	return e.Stats(), MarshalActions(e.Actions()), nil
}

// FlowDel removes the flow for the given encoded key and returns its final
// statistics.
func (d *Datapath) FlowDel(keyAttrs []byte) (FlowStats, error) {
	var k flow.Key
	if err := flow.DecodeAttrs(keyAttrs, &k); err != nil {
		return FlowStats{}, err
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	stats, err := d.table.Delete(&k)
	if err != nil {
		return FlowStats{}, err
	}
	d.metrics.SetFlows(d.name, d.table.Len())
	return stats, nil
}

// FlowFlush removes all flows.
func (d *Datapath) FlowFlush() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.table.Flush()
	d.metrics.SetFlows(d.name, 0)
}

// FlowDump returns the next flow of a dump, encoded, and advances the
// cursor. The zero cursor starts a new dump. Dumps interleaved with flow
// changes may skip or repeat entries but always terminate.
func (d *Datapath) FlowDump(c *DumpCursor) (keyAttrs, actionAttrs []byte, stats FlowStats, ok bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	e, ok := d.table.DumpNext(c)
	if !ok {
		return nil, nil, FlowStats{}, false
	}
	k := e.Key()
	return k.MarshalAttrs(), MarshalActions(e.Actions()), e.Stats(), true
}

// Execute runs an encoded action list over a frame injected by the
// controlling process, as if it had arrived on md.InPort. The flow table is
// not consulted and no statistics are updated.
func (d *Datapath) Execute(frame []byte, md flow.Metadata, actionAttrs []byte) error {
	actions, err := DecodeActions(actionAttrs)
	if err != nil {
		return err
	}
	pkt := NewPacket(frame)
	var key flow.Key
	if err := flow.Extract(pkt.Data(), md, &key, &pkt.Layers); err != nil {
		return serrors.Wrap("extracting key for execute", err)
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.executeActions(pkt, &key, actions)
	return nil
}

// RecvUpcall dequeues the next pending upcall among the reasons selected by
// mask, lower reason values first. It returns ErrWouldBlock when nothing is
// pending; UpcallReady signals new arrivals.
func (d *Datapath) RecvUpcall(mask ReasonMask) (Upcall, error) {
	return d.upcalls.recv(mask)
}

// UpcallReady returns a channel that carries a token when upcalls may be
// pending. A token is a hint, not a count; drain with RecvUpcall until
// ErrWouldBlock.
func (d *Datapath) UpcallReady() <-chan struct{} {
	return d.upcalls.readyChan()
}

// PurgeUpcalls drops all pending upcalls.
func (d *Datapath) PurgeUpcalls() {
	d.upcalls.purge()
}

// Stats returns an aggregate snapshot of the datapath.
func (d *Datapath) Stats() Stats {
	d.mtx.Lock()
	flows := d.table.Len()
	maxFlows := d.table.MaxFlows()
	ports := len(d.ports.order)
	d.mtx.Unlock()
	return Stats{
		Hits:     d.hits.Load(),
		Misses:   d.misses.Load(),
		Lost:     d.upcalls.lost.Load(),
		Flows:    flows,
		MaxFlows: maxFlows,
		Ports:    ports,
	}
}

// Run enters the forwarding loop and blocks until ctx is cancelled. Ports
// are polled round-robin in ascending index order, up to a fixed batch per
// port per pass, so one busy port cannot starve the others.
func (d *Datapath) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return serrors.New("datapath already running", "name", d.name)
	}
	defer d.running.Store(false)
	d.log.Info("Datapath running")
	for {
		if !d.pollOnce() {
			select {
			case <-ctx.Done():
				d.log.Info("Datapath stopping")
				return nil
			case <-d.wake:
			}
		} else {
			select {
			case <-ctx.Done():
				d.log.Info("Datapath stopping")
				return nil
			default:
			}
		}
	}
}

// pollOnce makes one pass over all ports and reports whether any frame was
// processed.
func (d *Datapath) pollOnce() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	any := false
	for _, p := range d.ports.order {
		for i := 0; i < pollBatchPerPort; i++ {
			frame, err := p.dev.Recv()
			if err != nil {
				if !errors.Is(err, ErrWouldBlock) {
					d.log.Error("Receiving frame", "port", p.ID, "err", err)
				}
				break
			}
			any = true
			d.process(p, frame)
		}
	}
	return any
}

// process runs one received frame through the fast path: extract, look up,
// execute or punt.
func (d *Datapath) process(p *Port, frame []byte) {
	d.metrics.IncRx(d.name, p.Name, len(frame))
	pkt := NewPacket(frame)
	var key flow.Key
	md := flow.Metadata{InPort: uint32(p.ID)}
	if err := flow.Extract(pkt.Data(), md, &key, &pkt.Layers); err != nil {
		d.metrics.IncParseError(d.name, p.Name)
		return
	}
	e, ok := d.table.Lookup(&key)
	if !ok {
		d.misses.Add(1)
		d.metrics.IncMiss(d.name)
		d.punt(ReasonMiss, &key, pkt.Data(), 0)
		return
	}
	e.update(pkt.Len(), tcpControlBits(&key, pkt), time.Now())
	d.hits.Add(1)
	d.metrics.IncHit(d.name)
	d.executeActions(pkt, &key, e.Actions())
}

// tcpControlBits returns the TCP flag byte of the frame, or 0 for anything
// that is not an unfragmented IPv4 or IPv6 TCP segment.
func tcpControlBits(k *flow.Key, pkt *Packet) uint8 {
	if k.Proto != flow.ProtoTCP || k.IsFragment() {
		return 0
	}
	if k.EthType != flow.EthTypeIPv4 && k.EthType != flow.EthTypeIPv6 {
		return 0
	}
	l4 := pkt.l4()
	if len(l4) < tcpHeaderLen {
		return 0
	}
	return l4[13]
}

// output transmits the packet's current contents on the given port. A
// missing port drops the packet, matching the window between a flow
// referencing a port and that port's deletion.
func (d *Datapath) output(pkt *Packet, id PortID) {
	p, ok := d.ports.byID[id]
	if !ok {
		d.metrics.IncTxDrop(d.name, "unknown")
		return
	}
	if err := p.dev.Send(pkt.Data()); err != nil {
		d.metrics.IncTxDrop(d.name, p.Name)
		d.log.Debug("Transmitting frame", "port", id, "err", err)
		return
	}
	d.metrics.IncTx(d.name, p.Name, pkt.Len())
}

// punt queues a copy of the frame toward the controlling process. Overflow
// drops the new upcall and is accounted in the lost counter.
func (d *Datapath) punt(reason Reason, key *flow.Key, frame []byte, userdata uint64) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	err := d.upcalls.enqueue(Upcall{
		Reason:   reason,
		Key:      *key,
		Frame:    buf,
		UserData: userdata,
	})
	if err != nil {
		d.metrics.IncLost(d.name, reason)
	}
}
