// Copyright 2017 DigitalOcean.
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

// Package tnlports stands in for the datapath port table: the collaborator
// that maps a UDP destination port to the odp_port/name of the tunnel
// vport that should receive packets arriving on it, so the kernel fast
// path can decide which tunnel type to decapsulate with.
package tnlports

import "sync"

// Table is the DatapathPortTable collaborator named in the tunnel port
// demultiplexer design: tnl_port_map_insert / tnl_port_map_delete.
type Table interface {
	// Insert installs the mapping from dstPort to odpPort/name. It is
	// called while the PortRegistry writer lock is held, for ports
	// registered with native == true.
	Insert(odpPort uint32, dstPort uint16, name string) error

	// Delete removes the mapping keyed by dstPort. It is a no-op if no
	// such mapping exists.
	Delete(dstPort uint16) error
}

// Open returns the best available Table for the current platform: a
// genetlink-backed table talking to the kernel's ovs_vport family where
// available, falling back to an in-memory table otherwise.
func Open() Table {
	if t, err := newGenTable(); err == nil {
		return t
	}
	return newMemTable()
}

// memTable is an in-memory Table, used on platforms without the OVS
// kernel module loaded, and in tests.
type memTable struct {
	mu      sync.Mutex
	entries map[uint16]memEntry
}

type memEntry struct {
	odpPort uint32
	name    string
}

func newMemTable() *memTable {
	return &memTable{entries: make(map[uint16]memEntry)}
}

func (t *memTable) Insert(odpPort uint32, dstPort uint16, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[dstPort] = memEntry{odpPort: odpPort, name: name}
	return nil
}

func (t *memTable) Delete(dstPort uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, dstPort)
	return nil
}

// Lookup returns the odp_port/name registered for dstPort, used in tests
// to assert on memTable's state without a kernel OVS module.
func (t *memTable) Lookup(dstPort uint16) (odpPort uint32, name string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[dstPort]
	return e.odpPort, e.name, ok
}
