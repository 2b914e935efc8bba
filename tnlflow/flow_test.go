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

package tnlflow

import (
	"net/netip"
	"testing"
)

func TestTunnelKeyDstIsSet(t *testing.T) {
	var k TunnelKey
	if k.DstIsSet() {
		t.Fatal("zero-value TunnelKey should not report its destination as set")
	}

	k.IPv6Dst = netip.MustParseAddr("::ffff:10.0.0.1")
	if !k.DstIsSet() {
		t.Fatal("TunnelKey with a populated destination should report it as set")
	}
}

func TestFlowKeyIsIPAny(t *testing.T) {
	var f FlowKey
	if f.IsIPAny() {
		t.Fatal("zero nw_proto should not be IP-any")
	}

	f.NwProto = 6 // TCP, implies an IP inner packet.
	if !f.IsIPAny() {
		t.Fatal("nonzero nw_proto should be IP-any")
	}
}

func TestFlowKeyString(t *testing.T) {
	f := &FlowKey{InPort: 7}
	f.Tunnel.TunID = 0x2a
	f.Tunnel.IPv6Dst = netip.MustParseAddr("::ffff:10.0.0.1")

	s := f.String()
	if s == "" {
		t.Fatal("String should not be empty")
	}
}
