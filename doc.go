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

// Package tunnelmux maps incoming encapsulated packets to logical tunnel
// ports and prepares the outer header of packets leaving through them.
//
// A PortRegistry owns the set of registered tunnel ports. ReceivePath
// resolves an incoming flow to the port that should receive it; SendPath
// fills in a flow's outer tunnel fields and builds the bytes of its outer
// Ethernet/IPv4 header for a given port.
package tunnelmux
