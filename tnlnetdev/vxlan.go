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

// ipProtoUDP is IANA protocol number 17, used by both VXLAN and Geneve.
const ipProtoUDP = 17

// VXLANDevice is a Device backed by a static VXLAN tunnel configuration.
// It appends a UDP header (source port derived from the flow's tunnel ID,
// destination port from the configured DstPort) followed by the 8-byte
// VXLAN header carrying the VNI.
type VXLANDevice struct {
	name      string
	cfg       TunnelConfig
	changeSeq uint64
	closed    atomic.Bool
}

// NewVXLANDevice returns a Device presenting cfg as a VXLAN tunnel.
func NewVXLANDevice(name string, cfg TunnelConfig) *VXLANDevice {
	return &VXLANDevice{name: name, cfg: cfg}
}

func (d *VXLANDevice) TunnelConfig() (*TunnelConfig, bool) {
	if d.closed.Load() {
		return nil, false
	}
	cfg := d.cfg
	return &cfg, true
}

func (d *VXLANDevice) ChangeSeq() uint64 { return atomic.LoadUint64(&d.changeSeq) }
func (d *VXLANDevice) Name() string      { return d.name }
func (d *VXLANDevice) Type() string      { return "vxlan" }

// Bump increments the device's change sequence, simulating a
// reconfiguration event (e.g. an option changed via ovs-vsctl).
func (d *VXLANDevice) Bump() { atomic.AddUint64(&d.changeSeq, 1) }

func (d *VXLANDevice) BuildHeader(buf *HeaderBuffer, flow *tnlflow.FlowKey) error {
	buf.SetIPProtocol(ipProtoUDP)

	var hdr [8 + 8]byte // UDP header + VXLAN header

	srcPort := 49152 + uint16(flow.Tunnel.TunID&0x3fff)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], d.cfg.DstPort)
	binary.BigEndian.PutUint16(hdr[4:6], 0) // length filled in by the caller's transport layer
	binary.BigEndian.PutUint16(hdr[6:8], 0) // checksum optional for VXLAN over IPv4

	binary.BigEndian.PutUint32(hdr[8:12], 1<<3) // flags: VNI valid
	vni := uint32(flow.Tunnel.TunID) & 0x00ffffff
	binary.BigEndian.PutUint32(hdr[12:16], vni<<8)

	return buf.Append(hdr[:])
}

func (d *VXLANDevice) Close() error {
	d.closed.Store(true)
	return nil
}
