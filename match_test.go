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
	"testing"

	"github.com/ovsdataplane/tunnelmux/tnlflow"
)

func TestBucketIndexFormula(t *testing.T) {
	cases := []struct {
		inKeyFlow, ipDstFlow bool
		cat                  ipSrcCategory
		want                 int
	}{
		{false, false, ipSrcCFG, 0},
		{false, false, ipSrcANY, 1},
		{false, false, ipSrcFLOW, 2},
		{false, true, ipSrcCFG, 3},
		{true, false, ipSrcCFG, 6},
		{true, true, ipSrcFLOW, 11},
	}

	for _, c := range cases {
		m := TunnelMatch{InKeyFlow: c.inKeyFlow, IPDstFlow: c.ipDstFlow, IPSrcFlow: c.cat == ipSrcFLOW}
		if c.cat == ipSrcCFG {
			m.IPv6Src = v4("10.0.0.1")
		}
		if got := m.bucketIndex(); got != c.want {
			t.Fatalf("bucketIndex(%+v) = %d, want %d", c, got, c.want)
		}
	}
}

// TestMatchIndexInsertRemoveRoundTrip is invariant #2: a match's bucket
// index always names the bucket it actually resides in.
func TestMatchIndexInsertRemoveRoundTrip(t *testing.T) {
	var idx matchIndex
	p := &TunnelPort{Match: TunnelMatch{InKey: 0x2a, IPv6Src: v4("10.0.0.1"), IPv6Dst: v4("10.0.0.2"), OdpPort: 7}}

	idx.insert(p)
	if got := idx.findExact(p.Match); got != p {
		t.Fatalf("findExact after insert = %v, want %v", got, p)
	}

	idx.remove(p)
	if got := idx.findExact(p.Match); got != nil {
		t.Fatalf("findExact after remove = %v, want nil", got)
	}
	if idx.buckets[p.Match.bucketIndex()] != nil {
		t.Fatal("expected empty bucket to be freed")
	}
}

// TestMatchIndexFindExactReceive is scenario S1.
func TestMatchIndexFindExactReceive(t *testing.T) {
	var idx matchIndex
	p := &TunnelPort{Match: TunnelMatch{
		InKey:   0x2a,
		IPv6Src: v4("10.0.0.1"),
		IPv6Dst: v4("10.0.0.2"),
		OdpPort: 7,
	}}
	idx.insert(p)

	flow := &tnlflow.FlowKey{InPort: 7}
	flow.Tunnel.TunID = 0x2a
	flow.Tunnel.IPv6Src = v4("10.0.0.2")
	flow.Tunnel.IPv6Dst = v4("10.0.0.1")

	if got := idx.find(flow); got != p {
		t.Fatalf("find = %v, want %v", got, p)
	}
}

// TestMatchIndexSpecificityPrecedence is scenario S2: a port matched by an
// exact in_key wins over one that only matches by falling back to
// in_key_flow, regardless of insertion order.
func TestMatchIndexSpecificityPrecedence(t *testing.T) {
	var idx matchIndex

	portA := &TunnelPort{Match: TunnelMatch{
		InKey:   0x2a,
		IPv6Src: v4("10.0.0.1"),
		IPv6Dst: v4("10.0.0.2"),
		OdpPort: 7,
	}}
	portB := &TunnelPort{Match: TunnelMatch{
		IPv6Src:   v4("10.0.0.1"),
		IPv6Dst:   v4("10.0.0.2"),
		OdpPort:   7,
		InKeyFlow: true,
	}}
	idx.insert(portA)
	idx.insert(portB)

	exact := &tnlflow.FlowKey{InPort: 7}
	exact.Tunnel.TunID = 0x2a
	exact.Tunnel.IPv6Src = v4("10.0.0.2")
	exact.Tunnel.IPv6Dst = v4("10.0.0.1")
	if got := idx.find(exact); got != portA {
		t.Fatalf("find(tun_id=0x2a) = %v, want portA", got)
	}

	fallback := &tnlflow.FlowKey{InPort: 7}
	fallback.Tunnel.TunID = 0x99
	fallback.Tunnel.IPv6Src = v4("10.0.0.2")
	fallback.Tunnel.IPv6Dst = v4("10.0.0.1")
	if got := idx.find(fallback); got != portB {
		t.Fatalf("find(tun_id=0x99) = %v, want portB", got)
	}
}

func TestTunnelMatchKeyCanonicalizesInapplicableFields(t *testing.T) {
	m := TunnelMatch{InKey: 0x2a, InKeyFlow: true, IPv6Dst: v4("10.0.0.2"), IPDstFlow: true}
	k := m.key()
	if k.InKey != 0 {
		t.Fatal("expected InKey to canonicalize to 0 when InKeyFlow is set")
	}
	if k.IPv6Dst.IsValid() {
		t.Fatal("expected IPv6Dst to canonicalize to the zero value when IPDstFlow is set")
	}
}

func TestFormatMapped(t *testing.T) {
	if got := formatMapped(v4("10.0.0.1")); got != "10.0.0.1" {
		t.Fatalf("formatMapped(v4) = %q, want dotted-quad", got)
	}

	pureV6 := netip.MustParseAddr("fd00::1")
	if got := formatMapped(pureV6); got != pureV6.String() {
		t.Fatalf("formatMapped(v6) = %q, want %q", got, pureV6.String())
	}

	if got := formatMapped(netip.Addr{}); got != "0.0.0.0" {
		t.Fatalf("formatMapped(zero) = %q, want 0.0.0.0", got)
	}
}
