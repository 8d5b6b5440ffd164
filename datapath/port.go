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

import "sort"

// PortID is the index of a port within one datapath, bounded by MaxPorts.
// Indexes are reused after deletion.
type PortID uint32

// MaxPorts bounds the port index space of one datapath.
const MaxPorts = 1024

// PortIDAny lets the datapath pick the lowest free index on AddPort.
const PortIDAny = PortID(^uint32(0))

// Port is one network interface attached to a datapath.
type Port struct {
	ID       PortID
	Name     string
	Internal bool // virtual port with no underlying physical device
	dev      Device
	stop     chan struct{} // closes to stop the readiness watcher
}

// Device returns the port's underlying device handle.
func (p *Port) Device() Device {
	return p.dev
}

// portSet indexes the ports of one datapath by ID and by name, and keeps an
// ID-ordered list for the round-robin poll. It is manipulated only under the
// datapath's configuration mutex.
type portSet struct {
	byID   map[PortID]*Port
	byName map[string]*Port
	order  []*Port // ascending by ID
}

func newPortSet() portSet {
	return portSet{
		byID:   make(map[PortID]*Port),
		byName: make(map[string]*Port),
	}
}

// pickID returns the requested index if free, or the lowest free index for
// PortIDAny.
func (s *portSet) pickID(want PortID) (PortID, error) {
	if want != PortIDAny {
		if want >= MaxPorts {
			return 0, ErrTooManyPorts
		}
		if _, taken := s.byID[want]; taken {
			return 0, ErrExists
		}
		return want, nil
	}
	for id := PortID(0); id < MaxPorts; id++ {
		if _, taken := s.byID[id]; !taken {
			return id, nil
		}
	}
	return 0, ErrTooManyPorts
}

func (s *portSet) add(p *Port) {
	s.byID[p.ID] = p
	s.byName[p.Name] = p
	at := sort.Search(len(s.order), func(i int) bool {
		return s.order[i].ID >= p.ID
	})
	s.order = append(s.order, nil)
	copy(s.order[at+1:], s.order[at:])
	s.order[at] = p
}

func (s *portSet) del(p *Port) {
	delete(s.byID, p.ID)
	delete(s.byName, p.Name)
	for i, q := range s.order {
		if q == p {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
