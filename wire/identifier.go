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

// Package wire implements the HyParView control-plane wire grammar: the
// 6-byte identifier encoding and the framed control/application messages
// exchanged over a connection.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IdentifierSize is the canonical wire length of an Identifier: 4 address
// bytes followed by 2 big-endian port bytes.
const IdentifierSize = 6

// Identifier is a (IPv4 address, port) pair naming an overlay member. It is
// a plain value type: comparable, hashable as a map key, immutable.
type Identifier struct {
	IP   [4]byte
	Port uint16
}

// NewIdentifier builds an Identifier from a net.IP (which must have, or
// reduce to, a 4-byte form) and a port.
func NewIdentifier(ip net.IP, port uint16) (Identifier, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Identifier{}, fmt.Errorf("wire: %v is not an IPv4 address", ip)
	}
	var id Identifier
	copy(id.IP[:], v4)
	id.Port = port
	return id, nil
}

// String renders the identifier as "a.b.c.d:port".
func (id Identifier) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", id.IP[0], id.IP[1], id.IP[2], id.IP[3], id.Port)
}

// Addr returns the net.IP view of the identifier's address.
func (id Identifier) Addr() net.IP {
	return net.IPv4(id.IP[0], id.IP[1], id.IP[2], id.IP[3])
}

// TCPAddr returns the *net.TCPAddr form used to dial or listen.
func (id Identifier) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: id.Addr(), Port: int(id.Port)}
}

// Encode writes the canonical 6-byte wire form: 4 address bytes in network
// order followed by the port, big-endian.
func (id Identifier) Encode() [IdentifierSize]byte {
	var b [IdentifierSize]byte
	copy(b[0:4], id.IP[:])
	binary.BigEndian.PutUint16(b[4:6], id.Port)
	return b
}

// DecodeIdentifier parses the canonical 6-byte wire form produced by Encode.
func DecodeIdentifier(b []byte) (Identifier, error) {
	if len(b) < IdentifierSize {
		return Identifier{}, fmt.Errorf("wire: short identifier: need %d bytes, got %d", IdentifierSize, len(b))
	}
	var id Identifier
	copy(id.IP[:], b[0:4])
	id.Port = binary.BigEndian.Uint16(b[4:6])
	return id, nil
}
