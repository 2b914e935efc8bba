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

// Package tnlflow defines the flow-key and wildcard-mask types that the
// tunnel port demultiplexer reads fields from and writes wildcards into.
// It stands in for the flow-key abstraction of the enclosing switch.
package tnlflow

import (
	"fmt"
	"net/netip"
)

// TOS ECN codepoints, from lib/packets.h.
const (
	ECNMask   uint8 = 0x03
	ECNNotECT uint8 = 0x00
	ECNECT1   uint8 = 0x01
	ECNECT0   uint8 = 0x02
	ECNCE     uint8 = 0x03

	DSCPMask uint8 = 0xfc
)

// TunnelFlags are the bits carried in TunnelKey.Flags, mirroring
// FLOW_TNL_F_* in lib/packets.h.
type TunnelFlags uint16

const (
	FlagDontFragment TunnelFlags = 1 << iota
	FlagCsum
	FlagKey
)

// TunnelKey is the tunnel metadata portion of a flow key: the fields a
// tunnel port either matches on receive or fills in on send.
type TunnelKey struct {
	TunID uint64

	IPv6Src netip.Addr
	IPv6Dst netip.Addr

	TOS   uint8
	TTL   uint8
	Flags TunnelFlags

	TpSrc uint16
	TpDst uint16
}

// DstIsSet reports whether the tunnel destination has been populated, the
// condition under which a packet should be submitted to the tunnel port
// demultiplexer at all.
func (k TunnelKey) DstIsSet() bool {
	return k.IPv6Dst.IsValid() && !k.IPv6Dst.IsUnspecified()
}

// Wildcards records, for each field the tunnel port demultiplexer may
// examine, whether a cached flow-table entry installed for one packet is
// allowed to vary over that field for another. A zero mask bit means the
// entry may vary over that bit; a zero Wildcards constrains no field.
type Wildcards struct {
	TunID   uint64
	IPv6Src netip.Addr
	IPv6Dst netip.Addr
	TOS     uint8
	TTL     uint8
	Flags   TunnelFlags
	TpSrc   uint16
	TpDst   uint16

	PktMark uint32
	NwTOS   uint8
	NwTTL   uint8
}

// Full-mask constants for the scalar fields of Wildcards: "every bit
// must match" on that field.
const (
	MaskU64  = ^uint64(0)
	MaskU32  = ^uint32(0)
	MaskU16  = ^uint16(0)
	MaskU8   = ^uint8(0)
	MaskFlag = TunnelFlags(^uint16(0))
)

// V6FullMask and V4MappedFullMask are the "every bit must match" masks
// WildcardsInit assigns to the tunnel source/destination fields: a full
// IPv6 mask for true IPv6 endpoints, and an IPv4-mapped full mask for
// IPv4 endpoints (so Is4In6 still holds on the mask itself).
var (
	V6FullMask       = netip.MustParseAddr("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff")
	V4MappedFullMask = netip.MustParseAddr("::ffff:255.255.255.255")
)

// FlowKey is the subset of an OpenFlow-style flow key the tunnel port
// demultiplexer reads from or writes to: the tunnel metadata, the ingress
// datapath port, the skb mark, and the inner packet's TOS/TTL/protocol
// family (needed to decide whether TTL/TOS inheritance applies).
type FlowKey struct {
	Tunnel TunnelKey

	InPort  uint32
	PktMark uint32

	// NwProto is 0 when the inner packet is neither IPv4 nor IPv6.
	NwProto uint8
	NwTOS   uint8
	NwTTL   uint8
}

// IsIPAny reports whether the inner packet is IPv4 or IPv6, mirroring
// is_ip_any() in the original switch runtime.
func (f *FlowKey) IsIPAny() bool {
	return f.NwProto != 0
}

// TunnelDstIsSet is the should_receive predicate's dependency: true when
// 'flow' carries a set tunnel destination and should be submitted to
// ReceivePath.Receive.
func (f *FlowKey) TunnelDstIsSet() bool {
	return f.Tunnel.DstIsSet()
}

// String renders a diagnostic snapshot of the flow, used in rate-limited
// debug and warning log lines.
func (f *FlowKey) String() string {
	return fmt.Sprintf(
		"in_port=%d tunnel(key=%#x, src=%s, dst=%s, tos=%#x, ttl=%d, flags=%#x) pkt_mark=%#x nw_tos=%#x nw_ttl=%d",
		f.InPort, f.Tunnel.TunID, f.Tunnel.IPv6Src, f.Tunnel.IPv6Dst,
		f.Tunnel.TOS, f.Tunnel.TTL, f.Tunnel.Flags, f.PktMark, f.NwTOS, f.NwTTL,
	)
}
