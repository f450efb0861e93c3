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

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInActive is returned when a peer believed new is already
	// present in the active view; state is left unchanged.
	ErrAlreadyInActive = errors.New("hyparview: peer already in active view")
	// ErrNotInActive is the state error for disconnecting a peer that is not
	// in the active view. Node has no public disconnect operation, so none of
	// its methods returns it.
	ErrNotInActive = errors.New("hyparview: peer not in active view")
	// ErrNoContact is returned by JoinCluster when dialing the contact fails.
	ErrNoContact = errors.New("hyparview: could not reach contact node")
	// ErrStopped is returned by public operations invoked after Stop.
	ErrStopped = errors.New("hyparview: node stopped")
	// ErrInvalidConfig wraps a configuration validation failure.
	ErrInvalidConfig = errors.New("hyparview: invalid configuration")
)

func errInvalidConfig(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}
