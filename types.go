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

package tunnelmux

import (
	"fmt"
	"net/netip"

	"github.com/ovsdataplane/tunnelmux/tnlnetdev"
)

// ipsecMark is the skb mark used for IPsec tunnel packets.
const ipsecMark = 1

// UpstreamPort is the opaque identity of a logical port in the enclosing
// switch. It is used only as a comparison key and map key; this module
// never dereferences it.
type UpstreamPort = any

// ipSrcCategory is one of the three ways a TunnelMatch can treat the
// outer source address, used to select one of the twelve MatchIndex
// buckets.
type ipSrcCategory int

const (
	ipSrcCFG ipSrcCategory = iota // ipv6Src must match exactly.
	ipSrcANY                      // Any outer source is acceptable.
	ipSrcFLOW                     // Outer source is matched in the flow table.
)

// TunnelMatch is the identity of a tunnel port for receive-side lookup.
// Two TunnelMatch values are equal, and hash identically, iff every field
// compares equal; the zero value is used for fields that don't apply
// given the corresponding *Flow flag.
type TunnelMatch struct {
	InKey uint64

	IPv6Src netip.Addr
	IPv6Dst netip.Addr

	OdpPort uint32
	PktMark uint32

	InKeyFlow bool
	IPSrcFlow bool
	IPDstFlow bool
}

// category returns this match's ip_src_category, used to compute its
// bucket index.
func (m TunnelMatch) category() ipSrcCategory {
	switch {
	case m.IPSrcFlow:
		return ipSrcFLOW
	case m.IPv6Src.IsValid() && !m.IPv6Src.IsUnspecified():
		return ipSrcCFG
	default:
		return ipSrcANY
	}
}

// bucketIndex returns the index of the MatchIndex bucket m belongs in:
//
//	6*in_key_flow + 3*ip_dst_flow + ip_src_category
func (m TunnelMatch) bucketIndex() int {
	idx := 0
	if m.InKeyFlow {
		idx += 6
	}
	if m.IPDstFlow {
		idx += 3
	}
	idx += int(m.category())
	return idx
}

// key returns a value suitable for use as a Go map key, canonicalizing
// fields that don't apply given the match's flags to their zero value so
// that byte-wise equality (spec's requirement) and Go's built-in
// comparable equality agree.
func (m TunnelMatch) key() TunnelMatch {
	c := m
	if c.InKeyFlow {
		c.InKey = 0
	}
	if c.IPDstFlow {
		c.IPv6Dst = netip.Addr{}
	}
	if c.IPSrcFlow || c.category() == ipSrcANY {
		c.IPv6Src = netip.Addr{}
	}
	return c
}

// String renders the match the way tnl_match_fmt does: endpoints, key,
// datapath port, and pkt mark.
func (m TunnelMatch) String() string {
	var endpoints string
	switch {
	case !m.IPDstFlow:
		endpoints = fmt.Sprintf("%s->%s", formatMapped(m.IPv6Src), formatMapped(m.IPv6Dst))
	case !m.IPSrcFlow:
		endpoints = fmt.Sprintf("%s->flow", formatMapped(m.IPv6Src))
	default:
		endpoints = "flow->flow"
	}

	key := "key=flow"
	if !m.InKeyFlow {
		key = fmt.Sprintf("key=%#x", m.InKey)
	}

	return fmt.Sprintf("%s, %s, dp port=%d, pkt mark=%d", endpoints, key, m.OdpPort, m.PktMark)
}

// formatMapped renders addr the way ipv6_format_mapped does: as a dotted
// IPv4 address when it's the IPv4-mapped form, else as IPv6.
func formatMapped(addr netip.Addr) string {
	if !addr.IsValid() {
		return "0.0.0.0"
	}
	if addr.Is4In6() {
		return addr.Unmap().String()
	}
	return addr.String()
}

// TunnelPort is a registered tunnel: the upstream port it emulates, the
// network device supplying its configuration, and the TunnelMatch derived
// from that configuration at registration time.
type TunnelPort struct {
	Upstream UpstreamPort
	Netdev   tnlnetdev.Device

	changeSeq uint64
	odpPort   uint32

	Match TunnelMatch
}

func deriveMatch(cfg *tnlnetdev.TunnelConfig, odpPort uint32) TunnelMatch {
	m := TunnelMatch{
		InKey:     cfg.InKey,
		IPv6Src:   cfg.IPv6Src,
		IPv6Dst:   cfg.IPv6Dst,
		OdpPort:   odpPort,
		InKeyFlow: cfg.InKeyFlow,
		IPSrcFlow: cfg.IPSrcFlow,
		IPDstFlow: cfg.IPDstFlow,
	}
	if cfg.IPsec {
		m.PktMark = ipsecMark
	}
	return m
}
