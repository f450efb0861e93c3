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

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind identifies the wire message type. Every kind occupies a single byte
// on the wire.
type Kind byte

// The wire grammar, exactly as tabulated in the protocol specification.
const (
	KindJoin          Kind = 'J' // 6-byte id
	KindForwardJoin   Kind = 'F' // 6-byte id + 1-byte ttl
	KindJoinReply     Kind = 'R' // 6-byte id
	KindHNeighbour    Kind = 'H' // 6-byte id
	KindLNeighbour    Kind = 'L' // 6-byte id
	KindAccept        Kind = 'A' // -
	KindDecline       Kind = 'D' // -
	KindDisconnect    Kind = 'X' // -
	KindShuffle       Kind = 'S' // 6-byte id + 1-byte ttl + 1-byte len + len*6 xlist
	KindShuffleReply  Kind = 'Y' // 1-byte len + len*6 xlist
	KindMessage       Kind = 'M' // 4-byte length + payload
)

// MaxXListLen is the largest xlist the 1-byte length prefix can carry.
const MaxXListLen = 255

var (
	// ErrUnknownKind is returned when a type byte does not match the grammar.
	ErrUnknownKind = errors.New("wire: unknown frame kind")
	// ErrXListTooLong is returned by WriteFrame when an xlist exceeds MaxXListLen.
	ErrXListTooLong = errors.New("wire: xlist exceeds one-byte length limit")
)

// Frame is the decoded form of every message the wire grammar defines. Only
// the fields relevant to Kind are populated; callers switch on Kind.
type Frame struct {
	Kind Kind

	ID        Identifier   // JOIN, FORWARDJOIN (as New), JOINREPLY, HNEIGHBOUR, LNEIGHBOUR
	TTL       uint8        // FORWARDJOIN, SHUFFLE
	Requester Identifier   // SHUFFLE
	XList     []Identifier // SHUFFLE, SHUFFLEREPLY
	Payload   []byte       // MESSAGE
}

// Join builds a JOIN frame.
func Join(id Identifier) Frame { return Frame{Kind: KindJoin, ID: id} }

// JoinReply builds a JOINREPLY frame.
func JoinReply(id Identifier) Frame { return Frame{Kind: KindJoinReply, ID: id} }

// ForwardJoin builds a FORWARDJOIN frame.
func ForwardJoin(newID Identifier, ttl uint8) Frame {
	return Frame{Kind: KindForwardJoin, ID: newID, TTL: ttl}
}

// HNeighbour builds a high-priority NEIGHBOUR frame.
func HNeighbour(id Identifier) Frame { return Frame{Kind: KindHNeighbour, ID: id} }

// LNeighbour builds a low-priority NEIGHBOUR frame.
func LNeighbour(id Identifier) Frame { return Frame{Kind: KindLNeighbour, ID: id} }

// Accept builds an ACCEPT frame.
func Accept() Frame { return Frame{Kind: KindAccept} }

// Decline builds a DECLINE frame.
func Decline() Frame { return Frame{Kind: KindDecline} }

// Disconnect builds a DISCONNECT frame.
func Disconnect() Frame { return Frame{Kind: KindDisconnect} }

// Shuffle builds a SHUFFLE frame.
func Shuffle(requester Identifier, ttl uint8, xlist []Identifier) Frame {
	return Frame{Kind: KindShuffle, Requester: requester, TTL: ttl, XList: xlist}
}

// ShuffleReply builds a SHUFFLEREPLY frame.
func ShuffleReply(xlist []Identifier) Frame {
	return Frame{Kind: KindShuffleReply, XList: xlist}
}

// Message builds a MESSAGE frame carrying an application payload.
func Message(payload []byte) Frame { return Frame{Kind: KindMessage, Payload: payload} }

// WriteFrame encodes f and writes it to w in one call. Encoding is pure:
// ReadFrame of the bytes this produces always reconstructs an
// equivalent Frame.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func encode(f Frame) ([]byte, error) {
	switch f.Kind {
	case KindJoin, KindJoinReply, KindHNeighbour, KindLNeighbour:
		idb := f.ID.Encode()
		return append([]byte{byte(f.Kind)}, idb[:]...), nil
	case KindForwardJoin:
		idb := f.ID.Encode()
		buf := append([]byte{byte(f.Kind)}, idb[:]...)
		return append(buf, f.TTL), nil
	case KindAccept, KindDecline, KindDisconnect:
		return []byte{byte(f.Kind)}, nil
	case KindShuffle:
		if len(f.XList) > MaxXListLen {
			return nil, ErrXListTooLong
		}
		rb := f.Requester.Encode()
		buf := append([]byte{byte(f.Kind)}, rb[:]...)
		buf = append(buf, f.TTL, byte(len(f.XList)))
		for _, id := range f.XList {
			b := id.Encode()
			buf = append(buf, b[:]...)
		}
		return buf, nil
	case KindShuffleReply:
		if len(f.XList) > MaxXListLen {
			return nil, ErrXListTooLong
		}
		buf := []byte{byte(f.Kind), byte(len(f.XList))}
		for _, id := range f.XList {
			b := id.Encode()
			buf = append(buf, b[:]...)
		}
		return buf, nil
	case KindMessage:
		buf := make([]byte, 5+len(f.Payload))
		buf[0] = byte(f.Kind)
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
		copy(buf[5:], f.Payload)
		return buf, nil
	default:
		return nil, fmt.Errorf("wire: %w: %q", ErrUnknownKind, byte(f.Kind))
	}
}

// ReadFrame reads exactly one frame from r, blocking until the frame is
// fully read or r returns an error (including a read-deadline timeout set
// by the caller). It never reads past the frame boundary, so r can be
// reused for the next ReadFrame call.
func ReadFrame(r io.Reader) (Frame, error) {
	kind, err := ReadKind(r)
	if err != nil {
		return Frame{}, err
	}
	return ReadFrameBody(kind, r)
}

// ReadKind reads the single type byte that precedes every frame. Callers
// that want to apply a read deadline only to the remainder of the frame
// (not to the indefinite wait for the next frame to start) read the kind
// byte separately, adjust the deadline, then call ReadFrameBody.
func ReadKind(r io.Reader) (Kind, error) {
	var kb [1]byte
	if _, err := io.ReadFull(r, kb[:]); err != nil {
		return 0, err
	}
	return Kind(kb[0]), nil
}

// ReadFrameBody reads the payload that follows a given Kind's type byte.
func ReadFrameBody(kind Kind, r io.Reader) (Frame, error) {
	switch kind {
	case KindJoin, KindJoinReply, KindHNeighbour, KindLNeighbour:
		id, err := readIdentifier(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, ID: id}, nil
	case KindForwardJoin:
		id, err := readIdentifier(r)
		if err != nil {
			return Frame{}, err
		}
		var ttl [1]byte
		if _, err := io.ReadFull(r, ttl[:]); err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, ID: id, TTL: ttl[0]}, nil
	case KindAccept, KindDecline, KindDisconnect:
		return Frame{Kind: kind}, nil
	case KindShuffle:
		requester, err := readIdentifier(r)
		if err != nil {
			return Frame{}, err
		}
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Frame{}, err
		}
		xlist, err := readXList(r, int(hdr[1]))
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, Requester: requester, TTL: hdr[0], XList: xlist}, nil
	case KindShuffleReply:
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return Frame{}, err
		}
		xlist, err := readXList(r, int(lb[0]))
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, XList: xlist}, nil
	case KindMessage:
		var lb [4]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return Frame{}, err
		}
		n := binary.BigEndian.Uint32(lb[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, Payload: payload}, nil
	default:
		return Frame{}, fmt.Errorf("wire: %w: %q", ErrUnknownKind, byte(kind))
	}
}

func readIdentifier(r io.Reader) (Identifier, error) {
	var b [IdentifierSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Identifier{}, err
	}
	return DecodeIdentifier(b[:])
}

func readXList(r io.Reader, n int) ([]Identifier, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n*IdentifierSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	xlist := make([]Identifier, n)
	for i := 0; i < n; i++ {
		id, err := DecodeIdentifier(buf[i*IdentifierSize:])
		if err != nil {
			return nil, err
		}
		xlist[i] = id
	}
	return xlist, nil
}
