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
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/mdlayher/ethernet"

	"github.com/ovsdataplane/tunnelmux/tnlflow"
	"github.com/ovsdataplane/tunnelmux/tnlnetdev"
)

// ipv4HeaderLen is the length of an IPv4 header with no options, the only
// form this module ever emits.
const ipv4HeaderLen = 20

// BuildHeader writes the outer Ethernet/IPv4 header template for a packet
// leaving through upstream's tunnel port into out, then delegates to the
// port's network device to append tunnel-specific encapsulation framing.
// outerSrc is the source address of the outer IPv4 header; the destination
// is read from flow, which must already have been populated by Send.
//
// upstream must already be registered; calling this otherwise is a
// programming error and panics, matching the precondition the caller (a
// switch runtime that just used the port to send) is expected to uphold.
func (r *PortRegistry) BuildHeader(upstream UpstreamPort, flow *tnlflow.FlowKey, dstMAC, srcMAC net.HardwareAddr, outerSrc netip.Addr, out *tnlnetdev.HeaderBuffer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	port, ok := r.byUpstream[upstream]
	if !ok {
		panic("tunnelmux: BuildHeader called for an unregistered upstream port")
	}

	*out = tnlnetdev.HeaderBuffer{}

	eth := ethernet.Frame{
		Destination: dstMAC,
		Source:      srcMAC,
		EtherType:   ethernet.EtherTypeIPv4,
	}
	ethBytes, err := eth.MarshalBinary()
	if err != nil {
		return err
	}
	// MarshalBinary appends a zero-length Payload; trim it back to the
	// bare 14-byte header, the IPv4 header following immediately after.
	const bareEthLen = 14
	if err := out.Append(ethBytes[:bareEthLen]); err != nil {
		return err
	}

	var ip [ipv4HeaderLen]byte
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = flow.Tunnel.TOS

	if flow.Tunnel.Flags&tnlflow.FlagDontFragment != 0 {
		binary.BigEndian.PutUint16(ip[6:8], 1<<14) // DF bit
	}

	ip[8] = flow.Tunnel.TTL
	// ip[9], the protocol field, is filled in by the device's BuildHeader.

	dst := flow.Tunnel.IPv6Dst.Unmap()
	if dst.Is4() {
		src4 := outerSrc.Unmap().As4()
		dst4 := dst.As4()
		copy(ip[12:16], src4[:])
		copy(ip[16:20], dst4[:])
	}

	if err := out.Append(ip[:]); err != nil {
		return err
	}

	if err := port.Netdev.BuildHeader(out, flow); err != nil {
		return err
	}

	// The checksum is computed last, so any field the tunnel driver
	// patched in the IPv4 header (its protocol number, via SetIPProtocol)
	// is covered.
	ipHeader := out.Header[bareEthLen : bareEthLen+ipv4HeaderLen]
	binary.BigEndian.PutUint16(ipHeader[10:12], 0)
	csum := ipChecksum(ipHeader)
	binary.BigEndian.PutUint16(ipHeader[10:12], csum)

	return nil
}

// ipChecksum computes the standard one's-complement Internet checksum over
// an IPv4 header whose checksum field is currently zero.
func ipChecksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
