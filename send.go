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
	"net/netip"

	"github.com/ovsdataplane/tunnelmux/tnlflow"
)

// NoPort is returned by Send when upstream has no registered tunnel port.
const NoPort uint32 = 0xffffffff

// Send fills in flow's outer tunnel fields for transmission through
// upstream's tunnel port, recording any inheritance decisions in wc, and
// returns the datapath port the output should happen on. It returns
// (NoPort, false) if upstream has no registered tunnel port.
func (r *PortRegistry) Send(upstream UpstreamPort, flow *tnlflow.FlowKey, wc *tnlflow.Wildcards) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	port, ok := r.byUpstream[upstream]
	if !ok {
		return NoPort, false
	}

	cfg, ok := port.Netdev.TunnelConfig()
	if !ok {
		return NoPort, false
	}

	if r.debugLimiter.Allow() {
		pre := flow.String()
		defer func() {
			r.log.Printf("flow sent\n%s\n pre: %s\npost: %s", port.Match, pre, flow.String())
		}()
	}

	if !cfg.IPSrcFlow {
		flow.Tunnel.IPv6Src = port.Match.IPv6Src
	}
	if !cfg.IPDstFlow {
		flow.Tunnel.IPv6Dst = port.Match.IPv6Dst
	}

	flow.PktMark = port.Match.PktMark

	if !cfg.OutKeyFlow {
		flow.Tunnel.TunID = cfg.OutKey
	}

	if cfg.TTLInherit && flow.IsIPAny() {
		wc.NwTTL = tnlflow.MaskU8
		flow.Tunnel.TTL = flow.NwTTL
	} else {
		flow.Tunnel.TTL = cfg.TTL
	}

	if cfg.TOSInherit && flow.IsIPAny() {
		wc.NwTOS |= tnlflow.DSCPMask
		flow.Tunnel.TOS = flow.NwTOS & tnlflow.DSCPMask
	} else {
		flow.Tunnel.TOS = cfg.TOS
	}

	// ECN is always inherited when the inner packet is IP.
	if flow.IsIPAny() {
		wc.NwTOS |= tnlflow.ECNMask

		if flow.NwTOS&tnlflow.ECNMask == tnlflow.ECNCE {
			flow.Tunnel.TOS |= tnlflow.ECNECT0
		} else {
			flow.Tunnel.TOS |= flow.NwTOS & tnlflow.ECNMask
		}
	}

	var flags tnlflow.TunnelFlags
	if cfg.DontFragment {
		flags |= tnlflow.FlagDontFragment
	}
	if cfg.Csum {
		flags |= tnlflow.FlagCsum
	}
	if cfg.OutKeyPresent {
		flags |= tnlflow.FlagKey
	}
	flow.Tunnel.Flags |= flags

	return port.Match.OdpPort, true
}

// OuterHeader is the set of outer fields ExtractOuter reads back from a
// flow after Send, for use in round-trip tests.
type OuterHeader struct {
	Src, Dst netip.Addr
	TTL, TOS uint8
	TunID    uint64
}

// ExtractOuter reads back the outer fields Send wrote into flow, for use
// by round-trip tests that want to assert send(port, flow) reproduces
// port's configuration without hand-decoding the flow themselves.
func ExtractOuter(flow *tnlflow.FlowKey) OuterHeader {
	return OuterHeader{
		Src:   flow.Tunnel.IPv6Src,
		Dst:   flow.Tunnel.IPv6Dst,
		TTL:   flow.Tunnel.TTL,
		TOS:   flow.Tunnel.TOS,
		TunID: flow.Tunnel.TunID,
	}
}
