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

// Package p2p implements the connection finite-state machine and outgoing
// connection manager that transport HyParView control messages and
// application payloads over TCP.
package p2p

// State is one FSM state of a Conn.
type State int

const (
	// StateWaitForSocket is the initial state of an outgoing connection:
	// the socket is open but not yet registered with the node.
	StateWaitForSocket State = iota
	// StateWaitForAccept is the initial state of an incoming connection,
	// between listener accept and handoff to the FSM.
	StateWaitForAccept
	// StateWaitIncoming is reading the one-shot handshake frame that
	// decides the incoming connection's role.
	StateWaitIncoming
	// StateActive is a fully negotiated, framed connection.
	StateActive
	// StateTemporary carried exactly one frame and is being torn down
	// without a link-down notification.
	StateTemporary
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateWaitForSocket:
		return "wait_for_socket"
	case StateWaitForAccept:
		return "wait_for_accept"
	case StateWaitIncoming:
		return "wait_incoming"
	case StateActive:
		return "active"
	case StateTemporary:
		return "temporary"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
