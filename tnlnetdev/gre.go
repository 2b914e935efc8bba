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

package tnlnetdev

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/ovsdataplane/tunnelmux/tnlflow"
)

// GREDevice is a Device backed by a static GRE tunnel configuration. GRE
// carries its key directly in the IP payload, with no UDP header.
type GREDevice struct {
	name      string
	cfg       TunnelConfig
	changeSeq uint64
	closed    atomic.Bool
}

// NewGREDevice returns a Device presenting cfg as a GRE tunnel.
func NewGREDevice(name string, cfg TunnelConfig) *GREDevice {
	return &GREDevice{name: name, cfg: cfg}
}

func (d *GREDevice) TunnelConfig() (*TunnelConfig, bool) {
	if d.closed.Load() {
		return nil, false
	}
	cfg := d.cfg
	return &cfg, true
}

func (d *GREDevice) ChangeSeq() uint64 { return atomic.LoadUint64(&d.changeSeq) }
func (d *GREDevice) Name() string      { return d.name }
func (d *GREDevice) Type() string      { return "gre" }

// Bump increments the device's change sequence, simulating a
// reconfiguration event.
func (d *GREDevice) Bump() { atomic.AddUint64(&d.changeSeq, 1) }

// ipProtoGRE is IANA protocol number 47.
const ipProtoGRE = 47

func (d *GREDevice) BuildHeader(buf *HeaderBuffer, flow *tnlflow.FlowKey) error {
	const ethTypeTransEther = 0x6558

	buf.SetIPProtocol(ipProtoGRE)

	haveKey := flow.Tunnel.Flags&tnlflow.FlagKey != 0

	var hdr [8]byte
	flags := uint16(0)
	if haveKey {
		flags |= 1 << 13 // key present bit
	}
	binary.BigEndian.PutUint16(hdr[0:2], flags)
	binary.BigEndian.PutUint16(hdr[2:4], ethTypeTransEther)

	n := 4
	if haveKey {
		binary.BigEndian.PutUint32(hdr[4:8], uint32(flow.Tunnel.TunID))
		n = 8
	}

	return buf.Append(hdr[:n])
}

func (d *GREDevice) Close() error {
	d.closed.Store(true)
	return nil
}
