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

// Package tnlnetdev stands in for the network-device abstraction that
// supplies tunnel configuration to a registered port and knows how to
// append its protocol's encapsulation framing to an outer header. It is
// the collaborator named "NetworkDevice" in the tunnel port demultiplexer
// design; protocol-specific framing is intentionally minimal, since wire
// format correctness for VXLAN/GRE/Geneve is out of scope for this module.
package tnlnetdev

import (
	"errors"
	"net/netip"

	"github.com/ovsdataplane/tunnelmux/tnlflow"
)

// ErrHeaderTooLarge is returned by BuildHeader when the encapsulation
// framing would not fit in the caller's HeaderBuffer.
var ErrHeaderTooLarge = errors.New("tnlnetdev: header does not fit in buffer")

// TunnelConfig is the tunnel configuration read from a network device, as
// consumed by PortRegistry.Register and SendPath.Send.
type TunnelConfig struct {
	InKey  uint64
	OutKey uint64

	IPv6Src netip.Addr
	IPv6Dst netip.Addr

	IPSrcFlow bool
	IPDstFlow bool

	InKeyFlow    bool
	InKeyPresent bool

	OutKeyFlow    bool
	OutKeyPresent bool

	TTL        uint8
	TTLInherit bool

	TOS        uint8
	TOSInherit bool

	DontFragment bool
	Csum         bool
	IPsec        bool

	DstPort uint16
}

// HeaderBuffer is the fixed-capacity (256-byte) buffer SendPath.BuildHeader writes the
// outer Ethernet/IPv4 header into before delegating to a Device to append
// its own encapsulation framing.
type HeaderBuffer struct {
	Header [256]byte
	Len    int
}

// Append appends b to the buffer, returning ErrHeaderTooLarge if it
// wouldn't fit.
func (h *HeaderBuffer) Append(b []byte) error {
	if h.Len+len(b) > len(h.Header) {
		return ErrHeaderTooLarge
	}
	copy(h.Header[h.Len:], b)
	h.Len += len(b)
	return nil
}

// Bytes returns the portion of the buffer written so far.
func (h *HeaderBuffer) Bytes() []byte {
	return h.Header[:h.Len]
}

// ethHeaderLen and ipProtoOffset locate the IPv4 protocol byte within a
// buffer that already holds a standard (untagged) Ethernet header
// followed by an IPv4 header, letting a Device patch in its own IP
// protocol number before appending its encapsulation framing.
const (
	ethHeaderLen  = 14
	ipProtoOffset = ethHeaderLen + 9
)

// SetIPProtocol patches the protocol field of the IPv4 header already
// written to the buffer by SendPath.BuildHeader. It panics if called
// before that header has been written; a Device's BuildHeader method is
// only ever called after it has been.
func (h *HeaderBuffer) SetIPProtocol(proto uint8) {
	if h.Len <= ipProtoOffset {
		panic("tnlnetdev: SetIPProtocol called before the IPv4 header was written")
	}
	h.Header[ipProtoOffset] = proto
}

// Device is the network-device collaborator a registered tunnel port
// holds a reference to. It supplies the port's tunnel configuration, its
// reconfiguration-detection sequence number, and knows how to append its
// tunnel protocol's encapsulation framing to an outer header.
type Device interface {
	// TunnelConfig returns the device's tunnel configuration. ok is false
	// if the device is not configured as a tunnel.
	TunnelConfig() (cfg *TunnelConfig, ok bool)

	// ChangeSeq returns a sequence number that increments whenever the
	// device's configuration changes, used to detect reconfiguration.
	ChangeSeq() uint64

	// Name returns the device's name, used in diagnostics.
	Name() string

	// Type returns the device's tunnel type, e.g. "vxlan", "gre", "geneve".
	Type() string

	// BuildHeader appends this device's tunnel-specific encapsulation
	// framing to buf, which already holds an Ethernet+IPv4 header.
	BuildHeader(buf *HeaderBuffer, flow *tnlflow.FlowKey) error

	// Close releases any resources held by the device.
	Close() error
}
