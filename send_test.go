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

	"github.com/google/go-cmp/cmp"

	"github.com/ovsdataplane/tunnelmux/tnlflow"
	"github.com/ovsdataplane/tunnelmux/tnlnetdev"
)

func TestSendUnregisteredUpstream(t *testing.T) {
	r := newTestRegistry()
	flow := &tnlflow.FlowKey{}
	var wc tnlflow.Wildcards

	odpPort, ok := r.Send("nobody", flow, &wc)
	if ok || odpPort != NoPort {
		t.Fatalf("Send(unregistered) = (%d, %v), want (NoPort, false)", odpPort, ok)
	}
}

// TestSendRoundTripIPv4 is invariant #6.
func TestSendRoundTripIPv4(t *testing.T) {
	r := newTestRegistry()
	cfg := tnlnetdev.TunnelConfig{
		OutKey:  0x2a,
		IPv6Src: v4("10.0.0.1"),
		IPv6Dst: v4("10.0.0.2"),
		TTL:     64,
		TOS:     0x10,
	}
	dev := newFakeDevice("vxlan0", "vxlan", cfg)
	if err := r.Register("upstream-a", dev, 7, false, "vxlan0"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	flow := &tnlflow.FlowKey{}
	var wc tnlflow.Wildcards
	odpPort, ok := r.Send("upstream-a", flow, &wc)
	if !ok {
		t.Fatal("expected Send to succeed")
	}
	if odpPort != 7 {
		t.Fatalf("odpPort = %d, want 7", odpPort)
	}

	outer := ExtractOuter(flow)
	want := OuterHeader{Src: cfg.IPv6Src, Dst: cfg.IPv6Dst, TTL: cfg.TTL, TOS: cfg.TOS, TunID: cfg.OutKey}
	if diff := cmp.Diff(want, outer, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Fatalf("extracted outer header mismatch (-want +got):\n%s", diff)
	}
}

// TestSendECNInherit is scenario S4.
func TestSendECNInherit(t *testing.T) {
	r := newTestRegistry()
	cfg := tnlnetdev.TunnelConfig{
		IPv6Src:    v4("10.0.0.1"),
		IPv6Dst:    v4("10.0.0.2"),
		TOS:        0x28, // configured DSCP, no TOSInherit
		TOSInherit: false,
	}
	dev := newFakeDevice("vxlan0", "vxlan", cfg)
	if err := r.Register("upstream-a", dev, 7, false, "vxlan0"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	flow := &tnlflow.FlowKey{NwProto: 4, NwTOS: 0xa3} // DSCP=0x28, ECN=CE
	var wc tnlflow.Wildcards
	if _, ok := r.Send("upstream-a", flow, &wc); !ok {
		t.Fatal("expected Send to succeed")
	}

	if got := flow.Tunnel.TOS & tnlflow.ECNMask; got != tnlflow.ECNECT0 {
		t.Fatalf("outer ECN = %#x, want ECT_0 (%#x)", got, tnlflow.ECNECT0)
	}
	if got := flow.Tunnel.TOS & tnlflow.DSCPMask; got != cfg.TOS {
		t.Fatalf("outer DSCP = %#x, want %#x", got, cfg.TOS)
	}
}

func TestSendTTLInheritSetsWildcard(t *testing.T) {
	r := newTestRegistry()
	cfg := tnlnetdev.TunnelConfig{
		IPv6Src:    v4("10.0.0.1"),
		IPv6Dst:    v4("10.0.0.2"),
		TTLInherit: true,
	}
	dev := newFakeDevice("vxlan0", "vxlan", cfg)
	if err := r.Register("upstream-a", dev, 7, false, "vxlan0"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	flow := &tnlflow.FlowKey{NwProto: 4, NwTTL: 42}
	var wc tnlflow.Wildcards
	if _, ok := r.Send("upstream-a", flow, &wc); !ok {
		t.Fatal("expected Send to succeed")
	}

	if flow.Tunnel.TTL != 42 {
		t.Fatalf("outer TTL = %d, want inherited 42", flow.Tunnel.TTL)
	}
	if wc.NwTTL != tnlflow.MaskU8 {
		t.Fatal("expected NwTTL to be fully masked when TTL is inherited")
	}
}
