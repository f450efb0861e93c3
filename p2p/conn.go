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
	"net"
	"sync"
	"time"

	ethlog "github.com/ethereum/go-ethereum/log"

	"github.com/emfa/gen-hypar/wire"
)

// Conn owns exactly one socket end-to-end and runs its finite-state
// machine on a dedicated goroutine per the connection-as-task model: the
// FSM translates bytes into calls on a Sink and accepts outgoing frames
// from the node through its exported methods.
type Conn struct {
	sock net.Conn
	sink Sink

	recvTimeout time.Duration
	sendTimeout time.Duration

	mu     sync.Mutex
	state  State
	remote wire.Identifier
	hasID  bool

	sendMu sync.Mutex

	closeOnce sync.Once
}

// newConn builds a Conn in the given initial state. It does not start any
// goroutine; callers choose WaitIncoming (incoming) or GoAhead (outgoing).
func newConn(sock net.Conn, sink Sink, recvTimeout, sendTimeout time.Duration, state State) *Conn {
	return &Conn{
		sock:        sock,
		sink:        sink,
		recvTimeout: recvTimeout,
		sendTimeout: sendTimeout,
		state:       state,
	}
}

// NewOutgoing wraps a freshly dialed socket whose remote identifier is
// already known (it was the dial target). It starts in WaitForSocket; the
// caller must invoke GoAhead once the node has registered the peer.
func NewOutgoing(sock net.Conn, remote wire.Identifier, sink Sink, recvTimeout, sendTimeout time.Duration) *Conn {
	c := newConn(sock, sink, recvTimeout, sendTimeout, StateWaitForSocket)
	c.remote = remote
	c.hasID = true
	return c
}

// NewIncoming wraps a socket handed off by the listener. It immediately
// moves to WaitIncoming and starts the one-shot handshake read.
func NewIncoming(sock net.Conn, sink Sink, recvTimeout, sendTimeout time.Duration) *Conn {
	c := newConn(sock, sink, recvTimeout, sendTimeout, StateWaitForAccept)
	c.mu.Lock()
	c.state = StateWaitIncoming
	c.mu.Unlock()
	go c.runIncomingHandshake()
	return c
}

// State returns the current FSM state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteID returns the connection's remote identifier and whether it has
// been established yet (it hasn't, for an incoming connection still in
// WaitIncoming).
func (c *Conn) RemoteID() (wire.Identifier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote, c.hasID
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) setRemote(id wire.Identifier) {
	c.mu.Lock()
	c.remote = id
	c.hasID = true
	c.mu.Unlock()
}

// GoAhead transitions an outgoing WaitForSocket connection to Active and
// starts the frame-read loop. The node calls this once it has recorded the
// peer in its active view.
func (c *Conn) GoAhead() {
	c.setState(StateActive)
	go c.runActiveLoop()
}

// Send frames an application payload as a MESSAGE and writes it.
func (c *Conn) Send(payload []byte) error {
	return c.writeFrame(wire.Message(payload))
}

// ForwardJoinMsg writes a FORWARDJOIN frame.
func (c *Conn) ForwardJoinMsg(newID wire.Identifier, ttl uint8) error {
	return c.writeFrame(wire.ForwardJoin(newID, ttl))
}

// ShuffleMsg writes a SHUFFLE frame. xlist must fit in one byte of length.
func (c *Conn) ShuffleMsg(requester wire.Identifier, ttl uint8, xlist []wire.Identifier) error {
	return c.writeFrame(wire.Shuffle(requester, ttl, xlist))
}

// Disconnect synchronously sends DISCONNECT and closes the socket. It
// never notifies the sink: the caller is always the node itself, already
// acting on the same view mutation that makes this connection obsolete,
// so a callback here would feed the event straight back into the caller.
// It is idempotent.
func (c *Conn) Disconnect() {
	_ = c.writeFrame(wire.Disconnect())
	c.terminate(nil, true)
}

// Close closes the underlying socket without notifying the sink. Used for
// Temporary connections and already-declined outgoing attempts.
func (c *Conn) Close() error {
	c.terminate(nil, true)
	return nil
}

func (c *Conn) writeFrame(f wire.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateClosed {
		return ErrConnClosed
	}

	if c.sendTimeout > 0 {
		_ = c.sock.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	}
	if err := wire.WriteFrame(c.sock, f); err != nil {
		c.terminate(err, true)
		return err
	}
	return nil
}

// terminate closes the socket once. If silent is false and the connection
// was Active, the sink is notified of link-down with err.
func (c *Conn) terminate(err error, silent bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasActive := c.state == StateActive
		id := c.remote
		c.state = StateClosed
		c.mu.Unlock()

		_ = c.sock.Close()

		if wasActive && !silent {
			c.sink.HandleLinkDown(id, err)
		}
	})
}

// runIncomingHandshake implements the WaitIncoming dispatch table: read one
// type byte within the receive timeout, then the frame-specific payload.
func (c *Conn) runIncomingHandshake() {
	if c.recvTimeout > 0 {
		_ = c.sock.SetReadDeadline(time.Now().Add(c.recvTimeout))
	}
	kind, err := wire.ReadKind(c.sock)
	if err != nil {
		c.terminate(err, true)
		return
	}

	switch kind {
	case wire.KindJoin, wire.KindJoinReply:
		frame, err := wire.ReadFrameBody(kind, c.sock)
		if err != nil {
			c.terminate(err, true)
			return
		}
		c.setRemote(frame.ID)
		var accepted bool
		if kind == wire.KindJoin {
			accepted = c.sink.HandleJoin(frame.ID, c)
		} else {
			accepted = c.sink.HandleJoinReply(frame.ID, c)
		}
		if !accepted {
			c.setState(StateTemporary)
			c.terminate(nil, true)
			return
		}
		c.GoAhead()

	case wire.KindHNeighbour, wire.KindLNeighbour:
		frame, err := wire.ReadFrameBody(kind, c.sock)
		if err != nil {
			c.terminate(err, true)
			return
		}
		c.setRemote(frame.ID)
		highPrio := kind == wire.KindHNeighbour
		accepted := c.sink.HandleNeighbour(frame.ID, c, highPrio)
		if accepted {
			if err := c.writeFrame(wire.Accept()); err != nil {
				return
			}
			c.GoAhead()
		} else {
			_ = c.writeFrame(wire.Decline())
			c.setState(StateTemporary)
			c.terminate(nil, true)
		}

	case wire.KindShuffleReply:
		frame, err := wire.ReadFrameBody(kind, c.sock)
		if err != nil {
			c.terminate(err, true)
			return
		}
		c.sink.HandleShuffleReply(frame.XList)
		c.setState(StateTemporary)
		c.terminate(nil, true)

	default:
		ethlog.Debug("p2p: unexpected incoming handshake frame", "kind", string(rune(kind)))
		c.terminate(nil, true)
	}
}

// runActiveLoop reads frames from an Active connection until it closes or
// errors. The wait for the next frame's type byte is unbounded (an idle,
// healthy connection may sit quietly for a long time); once a frame has
// started, reading its remaining bytes is bounded by recvTimeout.
func (c *Conn) runActiveLoop() {
	for {
		_ = c.sock.SetReadDeadline(time.Time{})
		kind, err := wire.ReadKind(c.sock)
		if err != nil {
			c.terminate(err, false)
			return
		}

		if c.recvTimeout > 0 {
			_ = c.sock.SetReadDeadline(time.Now().Add(c.recvTimeout))
		}
		frame, err := wire.ReadFrameBody(kind, c.sock)
		if err != nil {
			c.terminate(err, false)
			return
		}

		id, _ := c.RemoteID()
		switch kind {
		case wire.KindMessage:
			c.sink.HandleMessage(id, frame.Payload)
		case wire.KindForwardJoin:
			c.sink.HandleForwardJoin(id, frame.ID, frame.TTL)
		case wire.KindShuffle:
			c.sink.HandleShuffle(id, frame.Requester, frame.TTL, frame.XList)
		case wire.KindDisconnect:
			c.sink.HandleDisconnect(id)
			c.terminate(nil, true)
			return
		default:
			ethlog.Debug("p2p: unexpected frame on active connection", "kind", string(rune(kind)), "remote", id)
			c.terminate(ErrUnexpectedReply, false)
			return
		}
	}
}
