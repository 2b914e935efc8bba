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

// GeneveDevice is a Device backed by a static Geneve tunnel configuration.
// Like VXLAN, Geneve rides over UDP; it uses a variable-length header but
// this implementation never emits options, so the header is always the
// fixed 8-byte form.
type GeneveDevice struct {
	name      string
	cfg       TunnelConfig
	changeSeq uint64
	closed    atomic.Bool
}

// NewGeneveDevice returns a Device presenting cfg as a Geneve tunnel.
func NewGeneveDevice(name string, cfg TunnelConfig) *GeneveDevice {
	return &GeneveDevice{name: name, cfg: cfg}
}

func (d *GeneveDevice) TunnelConfig() (*TunnelConfig, bool) {
	if d.closed.Load() {
		return nil, false
	}
	cfg := d.cfg
	return &cfg, true
}

func (d *GeneveDevice) ChangeSeq() uint64 { return atomic.LoadUint64(&d.changeSeq) }
func (d *GeneveDevice) Name() string      { return d.name }
func (d *GeneveDevice) Type() string      { return "geneve" }

// Bump increments the device's change sequence, simulating a
// reconfiguration event.
func (d *GeneveDevice) Bump() { atomic.AddUint64(&d.changeSeq, 1) }

const geneveProtoTransEther = 0x6558

func (d *GeneveDevice) BuildHeader(buf *HeaderBuffer, flow *tnlflow.FlowKey) error {
	buf.SetIPProtocol(ipProtoUDP)

	var udp [8]byte
	srcPort := 49152 + uint16(flow.Tunnel.TunID&0x3fff)
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], d.cfg.DstPort)

	var hdr [8]byte
	hdr[0] = 0 // version 0, no options
	hdr[1] = 0
	binary.BigEndian.PutUint16(hdr[2:4], geneveProtoTransEther)
	vni := uint32(flow.Tunnel.TunID) & 0x00ffffff
	binary.BigEndian.PutUint32(hdr[4:8], vni<<8)

	if err := buf.Append(udp[:]); err != nil {
		return err
	}
	return buf.Append(hdr[:])
}

func (d *GeneveDevice) Close() error {
	d.closed.Store(true)
	return nil
}
