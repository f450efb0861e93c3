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

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emfa/gen-hypar/wire"
)

// acceptOnce runs a bare listener that reads exactly one frame from the
// first incoming connection, invokes respond with it, and stops.
func acceptOnce(t *testing.T, respond func(net.Conn, wire.Frame)) wire.Identifier {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		sock, err := ln.Accept()
		if err != nil {
			return
		}
		defer ln.Close()
		frame, err := wire.ReadFrame(sock)
		if err != nil {
			return
		}
		respond(sock, frame)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	id, err := wire.NewIdentifier(addr.IP, uint16(addr.Port))
	require.NoError(t, err)
	return id
}

func testManager(t *testing.T, sink Sink) *Manager {
	t.Helper()
	m, err := NewManager(testID(1), sink, DialConfig{
		DialTimeout: time.Second,
		RecvTimeout: time.Second,
		SendTimeout: time.Second,
	})
	require.NoError(t, err)
	return m
}

func TestDialJoinSendsJoinFrame(t *testing.T) {
	var gotKind wire.Kind
	done := make(chan struct{})
	target := acceptOnce(t, func(sock net.Conn, f wire.Frame) {
		gotKind = f.Kind
		close(done)
	})

	m := testManager(t, nil)
	conn, err := m.DialJoin(context.Background(), target)
	require.NoError(t, err)
	defer conn.Close()

	<-done
	require.Equal(t, wire.KindJoin, gotKind)
	require.Equal(t, StateWaitForSocket, conn.State())
}

func TestDialNeighbourAccept(t *testing.T) {
	target := acceptOnce(t, func(sock net.Conn, f wire.Frame) {
		require.NoError(t, wire.WriteFrame(sock, wire.Accept()))
	})

	m := testManager(t, nil)
	conn, err := m.DialNeighbour(context.Background(), target, true)
	require.NoError(t, err)
	require.Equal(t, StateWaitForSocket, conn.State())
}

func TestDialNeighbourDecline(t *testing.T) {
	target := acceptOnce(t, func(sock net.Conn, f wire.Frame) {
		require.NoError(t, wire.WriteFrame(sock, wire.Decline()))
	})

	m := testManager(t, nil)
	_, err := m.DialNeighbour(context.Background(), target, false)
	require.ErrorIs(t, err, ErrDeclined)
}

func TestDialNeighbourUnexpectedReply(t *testing.T) {
	target := acceptOnce(t, func(sock net.Conn, f wire.Frame) {
		require.NoError(t, wire.WriteFrame(sock, wire.Join(testID(99))))
	})

	m := testManager(t, nil)
	_, err := m.DialNeighbour(context.Background(), target, false)
	require.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestDialShuffleReplyClosesAfterSend(t *testing.T) {
	var gotXList []wire.Identifier
	done := make(chan struct{})
	target := acceptOnce(t, func(sock net.Conn, f wire.Frame) {
		gotXList = f.XList
		close(done)
	})

	m := testManager(t, nil)
	xlist := []wire.Identifier{testID(10), testID(11)}
	require.NoError(t, m.DialShuffleReply(context.Background(), target, xlist))

	<-done
	require.Equal(t, xlist, gotXList)
}

func TestDialUnreachableTargetFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close()) // nothing listens on this port now

	target, err := wire.NewIdentifier(addr.IP, uint16(addr.Port))
	require.NoError(t, err)

	m := testManager(t, nil)
	_, err = m.DialJoin(context.Background(), target)
	require.Error(t, err)
}

func TestManagerInFlightDedup(t *testing.T) {
	m := testManager(t, nil)
	target := testID(42)

	require.True(t, m.TryBeginDial(target))
	require.False(t, m.TryBeginDial(target), "a second concurrent dial to the same target must be rejected")

	m.EndDial(target)
	require.True(t, m.TryBeginDial(target), "after EndDial the target can be dialed again")
}

func TestManagerBackoffAdvisesSkipAfterFailure(t *testing.T) {
	m, err := NewManager(testID(1), nil, DialConfig{BackoffFloor: time.Hour})
	require.NoError(t, err)
	target := testID(43)

	require.False(t, m.ShouldSkip(target), "no failure recorded yet")
	m.RecordFailure(target)
	require.True(t, m.ShouldSkip(target), "recent failure should be advised against")
}

func TestManagerBackoffDisabledWhenFloorZero(t *testing.T) {
	m := testManager(t, nil) // BackoffFloor defaults to zero
	target := testID(44)
	m.RecordFailure(target)
	require.False(t, m.ShouldSkip(target), "backoff bookkeeping is a no-op when BackoffFloor is zero")
}
