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

// nMatchTypes is the number of (in_key_flow, ip_dst_flow, ip_src_category)
// combinations: 2 * 2 * 3.
const nMatchTypes = 12

// matchIndex is the twelve-bucket lookup structure used on the receive
// path. Each bucket maps a canonicalized TunnelMatch to the TunnelPort
// registered with it; buckets are allocated lazily and freed when empty.
type matchIndex struct {
	buckets [nMatchTypes]map[TunnelMatch]*TunnelPort
}

func (idx *matchIndex) insert(p *TunnelPort) {
	b := p.Match.bucketIndex()
	if idx.buckets[b] == nil {
		idx.buckets[b] = make(map[TunnelMatch]*TunnelPort)
	}
	idx.buckets[b][p.Match.key()] = p
}

func (idx *matchIndex) remove(p *TunnelPort) {
	b := p.Match.bucketIndex()
	bucket := idx.buckets[b]
	if bucket == nil {
		return
	}
	delete(bucket, p.Match.key())
	if len(bucket) == 0 {
		idx.buckets[b] = nil
	}
}

// findExact returns the port registered with exactly m, if any.
func (idx *matchIndex) findExact(m TunnelMatch) *TunnelPort {
	bucket := idx.buckets[m.bucketIndex()]
	if bucket == nil {
		return nil
	}
	return bucket[m.key()]
}

// find returns the best-matching TunnelPort for an incoming flow, trying
// the twelve (in_key_flow, ip_dst_flow, ip_src_category) combinations in
// lexicographic order — in_key_flow outermost, ip_dst_flow next,
// ip_src_category innermost — and returning the first exact match.
//
// The apparent swap of flow source and destination below is correct: a
// TunnelMatch describes packets being sent out (local address is
// ipv6_src, remote is ipv6_dst), but we're using it here to describe how
// to treat a received packet, whose source is the remote endpoint.
func (idx *matchIndex) find(flow *tnlflow.FlowKey) *TunnelPort {
	for _, inKeyFlow := range [...]bool{false, true} {
		for _, ipDstFlow := range [...]bool{false, true} {
			for _, ipSrc := range [...]ipSrcCategory{ipSrcCFG, ipSrcANY, ipSrcFLOW} {
				b := idx.buckets[bucketFor(inKeyFlow, ipDstFlow, ipSrc)]
				if b == nil {
					continue
				}

				probe := TunnelMatch{
					OdpPort:   flow.InPort,
					PktMark:   flow.PktMark,
					InKeyFlow: inKeyFlow,
					IPDstFlow: ipDstFlow,
					IPSrcFlow: ipSrc == ipSrcFLOW,
				}
				if !inKeyFlow {
					probe.InKey = flow.Tunnel.TunID
				}
				if ipSrc == ipSrcCFG {
					probe.IPv6Src = flow.Tunnel.IPv6Dst
				}
				if !ipDstFlow {
					probe.IPv6Dst = flow.Tunnel.IPv6Src
				}

				if p, ok := b[probe.key()]; ok {
					return p
				}
			}
		}
	}
	return nil
}

func bucketFor(inKeyFlow, ipDstFlow bool, ipSrc ipSrcCategory) int {
	idx := 0
	if inKeyFlow {
		idx += 6
	}
	if ipDstFlow {
		idx += 3
	}
	return idx + int(ipSrc)
}
