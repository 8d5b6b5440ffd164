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
	"sort"
	"sync"
)

// Registry holds the datapath instances of one process, indexed by name.
// There is deliberately no package-level instance; callers own their
// registry.
type Registry struct {
	mtx sync.RWMutex
	dps map[string]*Datapath
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{dps: make(map[string]*Datapath)}
}

// Create constructs a new datapath under cfg.Name and registers it.
func (r *Registry) Create(cfg Config) (*Datapath, error) {
	cfg.InitDefaults()
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, taken := r.dps[cfg.Name]; taken {
		return nil, ErrExists
	}
	d := New(cfg)
	r.dps[cfg.Name] = d
	return d, nil
}

// Get returns the datapath with the given name.
func (r *Registry) Get(name string) (*Datapath, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	d, ok := r.dps[name]
	return d, ok
}

// Delete unregisters the named datapath and closes all its ports. The caller
// is responsible for stopping its Run loop first.
func (r *Registry) Delete(name string) error {
	r.mtx.Lock()
	d, ok := r.dps[name]
	delete(r.dps, name)
	r.mtx.Unlock()
	if !ok {
		return ErrNotFound
	}
	for _, p := range d.Ports() {
		if err := d.DelPort(p.ID); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the registered datapath names in sorted order.
func (r *Registry) Names() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	names := make([]string, 0, len(r.dps))
	for name := range r.dps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
