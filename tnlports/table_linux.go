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

//go:build linux

package tnlports

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"unsafe"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
)

// Constants from the kernel's ovs_vport generic netlink family
// (include/uapi/linux/openvswitch.h), trimmed to the subset this package
// exercises.
const (
	ovsVportFamily = "ovs_vport"

	ovsVportCmdNew = 1
	ovsVportCmdDel = 2
	ovsVportCmdSet = 4

	ovsVportAttrPortNo  = 1
	ovsVportAttrType    = 2
	ovsVportAttrName    = 3
	ovsVportAttrOptions = 4

	ovsVportTypeVxlan  = 4
	ovsVportTypeGre    = 3
	ovsVportTypeGeneve = 5

	ovsTunnelAttrDstPort = 3
)

// ovsHeader mirrors "struct ovs_header": a single int32 ifindex prefix
// carried at the front of every ovs_* generic netlink message payload.
type ovsHeader struct {
	Ifindex int32
}

const sizeofOvsHeader = int(unsafe.Sizeof(ovsHeader{}))

// genTable is a Table backed by the kernel's ovs_vport generic netlink
// family: dial genetlink, resolve the family by name, then issue
// SET/DEL commands against it.
type genTable struct {
	mu sync.Mutex
	c  *genetlink.Conn
	f  genetlink.Family

	// byDstPort tracks odp_port/name by dst_port so Delete, which the
	// DatapathPortTable contract only gives a dst_port for, can find the
	// matching vport to tear down.
	byDstPort map[uint16]genEntry
}

type genEntry struct {
	odpPort uint32
	name    string
}

func newGenTable() (Table, error) {
	c, err := genetlink.Dial(nil)
	if err != nil {
		return nil, err
	}

	families, err := c.ListFamilies()
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	for _, f := range families {
		if f.Name == ovsVportFamily {
			return &genTable{c: c, f: f, byDstPort: make(map[uint16]genEntry)}, nil
		}
	}

	_ = c.Close()
	return nil, os.ErrNotExist
}

func (t *genTable) Insert(odpPort uint32, dstPort uint16, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(ovsVportAttrPortNo, odpPort)
	ae.String(ovsVportAttrName, name)
	ae.Uint32(ovsVportAttrType, vportTypeForName(name))
	ae.Nested(ovsVportAttrOptions, func(nae *netlink.AttributeEncoder) error {
		nae.Uint16(ovsTunnelAttrDstPort, dstPort)
		return nil
	})

	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("tnlports: encoding vport attributes: %w", err)
	}

	if err := t.execute(ovsVportCmdSet, attrs); err != nil {
		return err
	}

	t.byDstPort[dstPort] = genEntry{odpPort: odpPort, name: name}
	return nil
}

func (t *genTable) Delete(dstPort uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byDstPort[dstPort]
	if !ok {
		return nil
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(ovsVportAttrPortNo, entry.odpPort)

	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("tnlports: encoding vport attributes: %w", err)
	}

	if err := t.execute(ovsVportCmdDel, attrs); err != nil {
		return err
	}

	delete(t.byDstPort, dstPort)
	return nil
}

func (t *genTable) execute(cmd uint8, attrs []byte) error {
	payload := make([]byte, sizeofOvsHeader, sizeofOvsHeader+len(attrs))
	copy(payload, headerBytes(ovsHeader{}))
	payload = append(payload, attrs...)

	req := genetlink.Message{
		Header: genetlink.Header{
			Command: cmd,
			Version: t.f.Version,
		},
		Data: payload,
	}

	flags := netlink.Request | netlink.Acknowledge
	_, err := t.c.Execute(req, t.f.ID, flags)
	return err
}

func headerBytes(h ovsHeader) []byte {
	b := *(*[sizeofOvsHeader]byte)(unsafe.Pointer(&h))
	return b[:]
}

func vportTypeForName(name string) uint32 {
	switch {
	case strings.Contains(name, "gre"):
		return ovsVportTypeGre
	case strings.Contains(name, "geneve"):
		return ovsVportTypeGeneve
	default:
		return ovsVportTypeVxlan
	}
}
