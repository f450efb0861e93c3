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

import "errors"

var (
	// ErrDeclined is returned by DialNeighbour when the remote replies DECLINE.
	ErrDeclined = errors.New("p2p: neighbour request declined")
	// ErrUnexpectedReply is returned when a handshake sees a reply byte that
	// does not belong to the grammar expected at that step.
	ErrUnexpectedReply = errors.New("p2p: unexpected reply frame")
	// ErrConnClosed is returned by Conn operations invoked after Close.
	ErrConnClosed = errors.New("p2p: connection closed")
	// ErrNotActive names an operation that requires the Active state. No Conn
	// method returns it: writes are refused only once the Conn is Closed.
	ErrNotActive = errors.New("p2p: connection is not active")
)
