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
	"github.com/ovsdataplane/tunnelmux/tnlnetdev"
)

// fakeDevice is a minimal tnlnetdev.Device used across the package's
// tests: a fixed TunnelConfig, a bumpable change sequence, and a
// BuildHeader that appends a recognizable marker byte.
type fakeDevice struct {
	name string
	typ  string
	cfg  tnlnetdev.TunnelConfig
	seq  uint64

	closed bool
}

func newFakeDevice(name, typ string, cfg tnlnetdev.TunnelConfig) *fakeDevice {
	return &fakeDevice{name: name, typ: typ, cfg: cfg}
}

func (d *fakeDevice) TunnelConfig() (*tnlnetdev.TunnelConfig, bool) {
	if d.closed {
		return nil, false
	}
	cfg := d.cfg
	return &cfg, true
}

func (d *fakeDevice) ChangeSeq() uint64 { return d.seq }
func (d *fakeDevice) Name() string      { return d.name }
func (d *fakeDevice) Type() string      { return d.typ }

func (d *fakeDevice) Bump() { d.seq++ }

func (d *fakeDevice) BuildHeader(buf *tnlnetdev.HeaderBuffer, flow *tnlflow.FlowKey) error {
	buf.SetIPProtocol(0xfe) // stand-in IP protocol number
	return buf.Append([]byte{0xfe})
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

// v4 parses s as a dotted-quad address and returns its IPv4-mapped IPv6
// form, the representation TunnelMatch and TunnelKey store IPv4 addresses
// in throughout this package.
func v4(s string) netip.Addr {
	return netip.MustParseAddr("::ffff:" + s)
}
