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

package hyparview

import "github.com/emfa/gen-hypar/wire"

// Callback is implemented by the application layered on top of the node
// (the reference flooder in package flood, or any other consumer). It is
// a capability handed to the node at construction time, not global state.
type Callback interface {
	// LinkUp reports that peer is now in the active view.
	LinkUp(peer wire.Identifier)
	// LinkDown reports that peer has left the active view.
	LinkDown(peer wire.Identifier)
	// Deliver hands an application MESSAGE payload from sender to the
	// application.
	Deliver(sender wire.Identifier, payload []byte)
}

// NopCallback implements Callback by doing nothing; useful in tests that
// only care about view-state invariants.
type NopCallback struct{}

func (NopCallback) LinkUp(wire.Identifier)                {}
func (NopCallback) LinkDown(wire.Identifier)               {}
func (NopCallback) Deliver(wire.Identifier, []byte)        {}
