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

// Package hyparview implements the HyParView membership node: bounded
// active/passive views, join/forward-join propagation, periodic shuffle,
// neighbour promotion, and failure-triggered recovery.
package hyparview

import "time"

// Config is the full set of tunables the node recognises.
type Config struct {
	// ActiveSize is the maximum active view size.
	ActiveSize int
	// PassiveSize is the maximum passive view size.
	PassiveSize int
	// ARWL is the active random walk length: the initial TTL for
	// forward-join and the base TTL for a shuffle request.
	ARWL uint8
	// PRWL is the passive random walk length: the TTL at which a
	// forward-join target is recorded in the passive view en route.
	PRWL uint8
	// KActive is the active-view sample count for a shuffle xlist.
	KActive int
	// KPassive is the passive-view sample count for a shuffle xlist.
	KPassive int
	// ShufflePeriod is the interval between shuffle ticks. Zero disables
	// periodic shuffling (Shuffle can still be invoked manually).
	ShufflePeriod time.Duration
	// Timeout is the generic receive timeout applied to handshake reads.
	Timeout time.Duration
	// SendTimeout bounds socket writes.
	SendTimeout time.Duration
}

// DefaultConfig returns the default tunables used by the genhypard daemon.
// They are larger than the parameters of the end-to-end scenario tests
// (active 3, passive 5, ARWL 3, PRWL 2, both sample counts 2).
func DefaultConfig() Config {
	return Config{
		ActiveSize:    4,
		PassiveSize:   24,
		ARWL:          6,
		PRWL:          3,
		KActive:       3,
		KPassive:      4,
		ShufflePeriod: 10 * time.Second,
		Timeout:       5 * time.Second,
		SendTimeout:   5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.ActiveSize <= 0 {
		return errInvalidConfig("active_size must be positive")
	}
	if c.PassiveSize < 0 {
		return errInvalidConfig("passive_size must not be negative")
	}
	return nil
}
