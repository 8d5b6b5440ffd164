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
	"sync"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"

	"github.com/flowplane/flowplane/pkg/log"
	"github.com/flowplane/flowplane/pkg/private/serrors"
)

// tapReadBufSize accommodates jumbo frames.
const tapReadBufSize = 9216

// TapDevice is a Device backed by a kernel TAP interface. The TAP file
// descriptor only supports blocking reads, so a reader goroutine pumps
// frames into a buffered queue from which Recv takes without blocking.
type TapDevice struct {
	ifce *water.Interface
	name string
	mtu  int

	mtx    sync.Mutex
	rx     [][]byte
	ready  chan struct{}
	closed bool
}

// NewTapDevice creates (or attaches to) the TAP interface with the given
// name and brings the link up.
func NewTapDevice(name string) (*TapDevice, error) {
	ifce, err := water.New(water.Config{
		DeviceType: water.TAP,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: name,
		},
	})
	if err != nil {
		return nil, serrors.Wrap("creating TAP interface", err, "name", name)
	}
	link, err := netlink.LinkByName(ifce.Name())
	if err != nil {
		_ = ifce.Close()
		return nil, serrors.Wrap("looking up TAP link", err, "name", ifce.Name())
	}
	if err := netlink.LinkSetUp(link); err != nil {
		_ = ifce.Close()
		return nil, serrors.Wrap("bringing TAP link up", err, "name", ifce.Name())
	}
	d := &TapDevice{
		ifce:  ifce,
		name:  ifce.Name(),
		mtu:   link.Attrs().MTU,
		ready: make(chan struct{}, 1),
	}
	go func() {
		defer log.HandlePanic()
		d.readLoop()
	}()
	return d, nil
}

// Name returns the kernel interface name.
func (d *TapDevice) Name() string {
	return d.name
}

// MTU returns the link MTU at the time the device was opened.
func (d *TapDevice) MTU() int {
	return d.mtu
}

func (d *TapDevice) readLoop() {
	buf := make([]byte, tapReadBufSize)
	for {
		n, err := d.ifce.Read(buf)
		if err != nil {
			d.mtx.Lock()
			closed := d.closed
			d.mtx.Unlock()
			if !closed {
				log.Error("TAP read failed", "name", d.name, "err", err)
			}
			return
		}
		frame := append([]byte(nil), buf[:n]...)
		d.mtx.Lock()
		d.rx = append(d.rx, frame)
		d.mtx.Unlock()
		select {
		case d.ready <- struct{}{}:
		default:
		}
	}
}

// Recv implements Device.
func (d *TapDevice) Recv() ([]byte, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if len(d.rx) == 0 {
		return nil, ErrWouldBlock
	}
	frame := d.rx[0]
	d.rx = d.rx[1:]
	return frame, nil
}

// Send implements Device.
func (d *TapDevice) Send(frame []byte) error {
	if _, err := d.ifce.Write(frame); err != nil {
		return serrors.Wrap("writing TAP frame", err, "name", d.name)
	}
	return nil
}

// Ready implements Device.
func (d *TapDevice) Ready() <-chan struct{} {
	return d.ready
}

// Close implements Device and tears down the reader goroutine.
func (d *TapDevice) Close() error {
	d.mtx.Lock()
	d.closed = true
	d.rx = nil
	d.mtx.Unlock()
	return d.ifce.Close()
}
