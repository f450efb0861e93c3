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

// Sink is implemented by the HyParView node. Every Conn reports decoded
// control frames and connection lifecycle events through it. Conn never
// touches node state directly; it only calls back through this interface,
// which keeps the node's view mutations on a single serialization domain
// (see the concurrency model in the protocol specification).
//
// Methods that decide whether an incoming connection gets to stay open
// return a bool: true keeps the connection (the node has recorded the
// peer), false means the caller must tear the connection down without
// emitting a link-down event, since the peer was never admitted.
type Sink interface {
	// HandleJoin processes an incoming JOIN frame naming sender, sent over
	// conn. Returns true if sender was admitted to the active view.
	HandleJoin(sender wire.Identifier, conn *Conn) bool
	// HandleJoinReply processes an incoming JOINREPLY frame.
	HandleJoinReply(sender wire.Identifier, conn *Conn) bool
	// HandleNeighbour processes an incoming HNEIGHBOUR/LNEIGHBOUR frame.
	HandleNeighbour(sender wire.Identifier, conn *Conn, highPriority bool) bool
	// HandleShuffleReply processes an incoming SHUFFLEREPLY frame. The
	// connection that carried it is always torn down afterward.
	HandleShuffleReply(xlist []wire.Identifier)
	// HandleForwardJoin processes a FORWARDJOIN frame arriving on an
	// established active connection with sender.
	HandleForwardJoin(sender wire.Identifier, newID wire.Identifier, ttl uint8)
	// HandleShuffle processes a SHUFFLE frame arriving on an established
	// active connection with sender.
	HandleShuffle(sender wire.Identifier, requester wire.Identifier, ttl uint8, xlist []wire.Identifier)
	// HandleDisconnect processes a DISCONNECT frame arriving on an
	// established active connection with sender.
	HandleDisconnect(sender wire.Identifier)
	// HandleMessage delivers an application MESSAGE payload.
	HandleMessage(sender wire.Identifier, payload []byte)
	// HandleLinkDown reports that an active connection died. err is the
	// read or protocol error that ended it; an explicit DISCONNECT frame is
	// reported through HandleDisconnect instead.
	HandleLinkDown(sender wire.Identifier, err error)
}
