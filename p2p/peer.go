// Copyright 2024 The gen-hypar Authors
// This file is part of the gen-hypar library.
//
// The gen-hypar library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The gen-hypar library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the gen-hypar library. If not, see <http://www.gnu.org/licenses/>.

package p2p

import "github.com/emfa/gen-hypar/wire"

// Peer pairs an overlay identifier with the live connection that carries
// traffic to it. Views hold Peers rather than bare identifiers so that a
// view membership change and its connection teardown/setup travel together.
type Peer struct {
	ID   wire.Identifier
	Conn *Conn
}

// Send is a convenience forwarding to Peer.Conn.Send.
func (p Peer) Send(payload []byte) error {
	return p.Conn.Send(payload)
}
