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

import "errors"

// Error taxonomy of the datapath. Capacity and not-found conditions are
// recoverable and must be distinguishable; encoding corruption is fatal for
// the operation that hits it.
var (
	// ErrTableFull is returned when a flow insert would exceed the
	// configured maximum number of flows.
	ErrTableFull = errors.New("flow table full")
	// ErrExists is returned by a strict insert when the key is already
	// present and modify was not requested.
	ErrExists = errors.New("flow already exists")
	// ErrNotFound is returned for lookups, modifies and deletes of absent
	// flows, and for queries of unknown ports.
	ErrNotFound = errors.New("not found")
	// ErrQueueFull is returned when an upcall ring is at capacity. The
	// upcall is dropped and counted as lost; nothing is evicted.
	ErrQueueFull = errors.New("upcall queue full")
	// ErrTooManyPorts is returned when no port index is free, or the
	// requested index is out of range.
	ErrTooManyPorts = errors.New("too many ports")
	// ErrPortNameTaken is returned when adding a port with a name that is
	// already in use on this datapath.
	ErrPortNameTaken = errors.New("port name already in use")
	// ErrWouldBlock is returned by a Device when no ingress frame is
	// available, and by upcall receives when every selected ring is empty.
	ErrWouldBlock = errors.New("would block")
	// ErrBadActionEncoding is the protocol-corruption class: a serialized
	// action list that cannot be decoded. Control and data plane disagree
	// on the protocol version; the operation must fail loudly.
	ErrBadActionEncoding = errors.New("bad action encoding")
)
