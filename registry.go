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
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ovsdataplane/tunnelmux/ratelimit"
	"github.com/ovsdataplane/tunnelmux/tnlnetdev"
	"github.com/ovsdataplane/tunnelmux/tnlports"
)

// ErrAlreadyRegistered is returned by Register when a port with an
// identical TunnelMatch is already registered, whatever its upstream port.
var ErrAlreadyRegistered = errors.New("tunnelmux: tunnel port with identical configuration already registered")

// An OptionFunc configures a PortRegistry.
type OptionFunc func(*PortRegistry)

// WithLogger sets the logger a PortRegistry uses for diagnostics. The
// default discards all output, so embedding this module never forces a
// particular logging framework on the caller.
func WithLogger(ll *log.Logger) OptionFunc {
	return func(r *PortRegistry) { r.log = ll }
}

// WithPortTable sets the DatapathPortTable collaborator a PortRegistry
// uses for native tunnel ports. The default is tnlports.Open().
func WithPortTable(t tnlports.Table) OptionFunc {
	return func(r *PortRegistry) { r.ports = t }
}

// PortRegistry owns the set of registered tunnel ports, indexed both by
// upstream port handle and by TunnelMatch bucket. A single reader-writer
// lock protects both indices: registry mutation takes the writer lock for
// the whole operation, receive/send take the reader lock for theirs.
type PortRegistry struct {
	mu sync.RWMutex

	byUpstream map[UpstreamPort]*TunnelPort
	index      matchIndex

	ports tnlports.Table
	log   *log.Logger

	warnLimiter  *ratelimit.Limiter
	debugLimiter *ratelimit.Limiter
}

// NewPortRegistry returns an independent PortRegistry. Most callers
// embedding this module in a larger program want the process-wide
// instance returned by Shared instead.
func NewPortRegistry(opts ...OptionFunc) *PortRegistry {
	r := &PortRegistry{
		byUpstream:   make(map[UpstreamPort]*TunnelPort),
		ports:        tnlports.Open(),
		log:          log.New(io.Discard, "", 0),
		warnLimiter:  ratelimit.Fast(),
		debugLimiter: ratelimit.Slow(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var (
	sharedOnce sync.Once
	shared     *PortRegistry
)

// Shared returns the process-wide PortRegistry, constructing it on first
// call. Concurrent first callers are coordinated by sync.Once so
// initialization happens exactly once, matching the one-shot guard
// ofproto_tunnel_init provides in the source design.
func Shared(opts ...OptionFunc) *PortRegistry {
	sharedOnce.Do(func() {
		shared = NewPortRegistry(opts...)
	})
	return shared
}

// Register reads netdev's tunnel configuration, derives a TunnelMatch,
// and adds a TunnelPort for it. It fails with ErrAlreadyRegistered if a
// port with an identical TunnelMatch is already registered.
//
// The netdev reference is acquired before the duplicate check runs and
// released on the duplicate path, matching the refcount ordering the
// original design preserves deliberately (see DESIGN.md).
func (r *PortRegistry) Register(upstream UpstreamPort, netdev tnlnetdev.Device, odpPort uint32, native bool, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(upstream, netdev, odpPort, native, name, true)
}

func (r *PortRegistry) registerLocked(upstream UpstreamPort, netdev tnlnetdev.Device, odpPort uint32, native bool, name string, warn bool) error {
	cfg, ok := netdev.TunnelConfig()
	if !ok {
		panic("tunnelmux: netdev has no tunnel configuration")
	}

	port := &TunnelPort{
		Upstream:  upstream,
		Netdev:    netdev,
		changeSeq: netdev.ChangeSeq(),
		odpPort:   odpPort,
		Match:     deriveMatch(cfg, odpPort),
	}

	if existing := r.index.findExact(port.Match); existing != nil {
		if warn {
			r.log.Printf("warn: attempting to add tunnel port %s with same config as port %s (%s)",
				name, existing.Netdev.Name(), port.Match)
		}
		_ = netdev.Close()
		return ErrAlreadyRegistered
	}

	r.byUpstream[upstream] = port
	r.index.insert(port)

	if r.log != nil {
		r.log.Printf("adding tunnel port %s (%s)", name, port.Match)
	}

	if native {
		if err := r.ports.Insert(odpPort, cfg.DstPort, name); err != nil {
			return fmt.Errorf("tunnelmux: installing datapath port mapping: %w", err)
		}
	}

	return nil
}

// Deregister removes upstream's tunnel port, if any. It is idempotent:
// deregistering an unknown upstream port is a no-op.
func (r *PortRegistry) Deregister(upstream UpstreamPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregisterLocked(upstream, true)
}

// deregisterLocked removes upstream's tunnel port. The port's netdev is
// closed only when closeNetdev is true.
func (r *PortRegistry) deregisterLocked(upstream UpstreamPort, closeNetdev bool) {
	port, ok := r.byUpstream[upstream]
	if !ok {
		return
	}

	if cfg, ok := port.Netdev.TunnelConfig(); ok {
		_ = r.ports.Delete(cfg.DstPort)
	}

	if r.log != nil {
		r.log.Printf("removing tunnel port %s (%s)", port.Netdev.Name(), port.Match)
	}

	r.index.remove(port)
	delete(r.byUpstream, upstream)
	if closeNetdev {
		_ = port.Netdev.Close()
	}
}

// Reconfigure applies netdev's current configuration to upstream's
// tunnel port, registering it if it doesn't yet exist. It returns true if
// anything changed. When a change is detected, the port is deregistered
// and re-registered under the writer lock, so bucket reassignment (the
// TunnelMatch may move to a different bucket) is trivially correct and no
// partially applied reconfiguration is ever observable.
func (r *PortRegistry) Reconfigure(upstream UpstreamPort, netdev tnlnetdev.Device, odpPort uint32, native bool, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byUpstream[upstream]
	if !ok {
		return r.registerLocked(upstream, netdev, odpPort, native, name, false) == nil
	}

	if existing.Netdev == netdev && existing.odpPort == odpPort && existing.changeSeq == netdev.ChangeSeq() {
		return false
	}

	if r.log != nil {
		r.log.Printf("reconfiguring %s", existing.Netdev.Name())
	}

	// The old device is released only if it is being replaced; a device
	// that stays registered must remain open for registerLocked to read.
	r.deregisterLocked(upstream, existing.Netdev != netdev)
	_ = r.registerLocked(upstream, netdev, odpPort, native, name, true)
	return true
}

// FindByUpstream returns the TunnelPort registered for upstream, if any.
func (r *PortRegistry) FindByUpstream(upstream UpstreamPort) (*TunnelPort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byUpstream[upstream]
	return p, ok
}
