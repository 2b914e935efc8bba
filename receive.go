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
	"github.com/ovsdataplane/tunnelmux/tnlflow"
)

// ShouldReceive reports whether flow should be submitted to Receive: true
// when the flow carries a set tunnel destination.
func ShouldReceive(flow *tnlflow.FlowKey) bool {
	return flow.TunnelDstIsSet()
}

// Receive resolves the TunnelPort that should receive flow, or nil if no
// registered port matches. A miss is logged at a rate-limited warning; a
// hit additionally logs a pre/post flow diagnostic under a separate,
// coarser rate limit.
func (r *PortRegistry) Receive(flow *tnlflow.FlowKey) *TunnelPort {
	r.mu.RLock()
	defer r.mu.RUnlock()

	port := r.index.find(flow)
	if port == nil {
		if r.warnLimiter.Allow() {
			r.log.Printf("warn: receive tunnel port not found (%s)", flow)
		}
		return nil
	}

	if r.debugLimiter.Allow() {
		pre := flow.String()
		post := flow.String()
		r.log.Printf("flow received\n%s\n pre: %s\npost: %s", port.Match, pre, post)
	}

	return port
}

// WildcardsInit sets the receive-side wildcard mask for flow into wc. It
// must be called before ProcessECN so that the cached flow-table entry it
// produces generalizes over the full set of packets ProcessECN would
// treat identically, not just the one packet being processed right now.
func WildcardsInit(flow *tnlflow.FlowKey, wc *tnlflow.Wildcards) {
	if !flow.TunnelDstIsSet() {
		return
	}

	wc.TunID = tnlflow.MaskU64

	if flow.Tunnel.IPv6Dst.Is4In6() {
		wc.IPv6Src = tnlflow.V4MappedFullMask
		wc.IPv6Dst = tnlflow.V4MappedFullMask
	} else {
		wc.IPv6Src = tnlflow.V6FullMask
		wc.IPv6Dst = tnlflow.V6FullMask
	}

	wc.Flags = tnlflow.FlagDontFragment | tnlflow.FlagCsum | tnlflow.FlagKey
	wc.TOS = tnlflow.MaskU8
	wc.TTL = tnlflow.MaskU8

	// tp_src/tp_dst in the tunnel key are always wildcarded in this
	// module; leave their masks at zero rather than unwildcarding them.
	wc.TpSrc = 0
	wc.TpDst = 0

	wc.PktMark = tnlflow.MaskU32

	if flow.IsIPAny() && flow.Tunnel.TOS&tnlflow.ECNMask == tnlflow.ECNCE {
		wc.NwTOS |= tnlflow.ECNMask
	}
}

// ProcessECN applies the tunnel's ECN semantics to flow: if flow is not a
// tunnel-receive, it is a no-op and packets keep flowing. Otherwise, an
// outer CE codepoint over a non-ECN-capable inner packet causes a drop;
// an outer CE codepoint otherwise propagates into the inner TOS. The
// IPsec pkt_mark bit is always cleared on the way out, since it has
// already served its purpose of selecting this port.
//
// ProcessECN must run after WildcardsInit (see its doc comment).
func (r *PortRegistry) ProcessECN(flow *tnlflow.FlowKey) (keep bool) {
	if !flow.TunnelDstIsSet() {
		return true
	}

	if flow.IsIPAny() && flow.Tunnel.TOS&tnlflow.ECNMask == tnlflow.ECNCE {
		if flow.NwTOS&tnlflow.ECNMask == tnlflow.ECNNotECT {
			if r.warnLimiter.Allow() {
				r.log.Printf("warn: dropping tunnel packet marked ECN CE but is not ECN capable")
			}
			return false
		}
		flow.NwTOS |= tnlflow.ECNCE
	}

	flow.PktMark &^= ipsecMark
	return true
}
