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
	"bytes"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func randIdentifier(f *fuzz.Fuzzer) Identifier {
	var id Identifier
	f.Fuzz(&id.IP)
	f.Fuzz(&id.Port)
	return id
}

func randXList(f *fuzz.Fuzzer, n int) []Identifier {
	xs := make([]Identifier, n)
	for i := range xs {
		xs[i] = randIdentifier(f)
	}
	return xs
}

// TestFrameRoundTrip exercises property P3: decode(encode(f)) == f for
// every frame kind in the grammar, across randomly fuzzed payloads.
func TestFrameRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0)
	const iterations = 200

	for i := 0; i < iterations; i++ {
		var ttl uint8
		f.Fuzz(&ttl)

		frames := []Frame{
			Join(randIdentifier(f)),
			JoinReply(randIdentifier(f)),
			ForwardJoin(randIdentifier(f), ttl),
			HNeighbour(randIdentifier(f)),
			LNeighbour(randIdentifier(f)),
			Accept(),
			Decline(),
			Disconnect(),
			Shuffle(randIdentifier(f), ttl, randXList(f, i%5)),
			ShuffleReply(randXList(f, i%7)),
			Message(fuzzBytes(f)),
		}

		for _, want := range frames {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, want))

			got, err := ReadFrame(&buf)
			require.NoError(t, err)
			require.Equal(t, want.Kind, got.Kind)
			require.Equal(t, want.ID, got.ID)
			require.Equal(t, want.TTL, got.TTL)
			require.Equal(t, want.Requester, got.Requester)
			require.EqualValues(t, normalizeXList(want.XList), normalizeXList(got.XList))
			require.Equal(t, want.Payload, got.Payload)
			require.Zero(t, buf.Len(), "trailing bytes left in buffer after decode")
		}
	}
}

// normalizeXList treats nil and empty slices as equal, since the wire form
// cannot distinguish "no xlist" from "empty xlist".
func normalizeXList(xs []Identifier) []Identifier {
	if len(xs) == 0 {
		return []Identifier{}
	}
	return xs
}

func fuzzBytes(f *fuzz.Fuzzer) []byte {
	var n uint8
	f.Fuzz(&n)
	b := make([]byte, n)
	f.Fuzz(&b)
	return b
}

func TestReadFrameUnknownKind(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{'Z'}))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestReadFrameTruncated(t *testing.T) {
	// JOIN announces a 6-byte id but only 2 bytes follow.
	_, err := ReadFrame(bytes.NewReader([]byte{byte(KindJoin), 1, 2}))
	require.Error(t, err)
}

func TestWriteFrameXListTooLong(t *testing.T) {
	xs := make([]Identifier, MaxXListLen+1)
	var buf bytes.Buffer
	err := WriteFrame(&buf, Shuffle(Identifier{}, 0, xs))
	require.ErrorIs(t, err, ErrXListTooLong)
}

func TestIdentifierEncodeDecode(t *testing.T) {
	id, err := NewIdentifier([]byte{127, 0, 0, 1}, 7001)
	require.NoError(t, err)
	enc := id.Encode()
	got, err := DecodeIdentifier(enc[:])
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, "127.0.0.1:7001", id.String())
}
