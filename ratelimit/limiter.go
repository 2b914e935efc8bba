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

// Package ratelimit provides the small token-bucket rate limiters used to
// throttle diagnostic logging on the packet-handling fast path.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// A Limiter allows at most N events per window of W seconds, tracked with a
// token bucket of burst N. It is safe for concurrent use.
type Limiter struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

// New returns a Limiter permitting at most n events per window seconds.
func New(n int, window float64) *Limiter {
	return &Limiter{
		lim: rate.NewLimiter(rate.Limit(float64(n)/window), n),
	}
}

// Allow reports whether an event may proceed right now, consuming one token
// if so. Callers use this to decide whether to emit a log line.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lim.Allow()
}

// Fast returns the limiter used for per-packet warnings: 1 event per 5s.
func Fast() *Limiter {
	return New(1, 5)
}

// Slow returns the limiter used for verbose debug traces: 60 events per 60s.
func Slow() *Limiter {
	return New(60, 60)
}
