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
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"

	"github.com/emfa/gen-hypar/wire"
)

// DialConfig bounds the three timeouts a dial-initiated handshake is
// subject to. Zero disables the corresponding deadline.
type DialConfig struct {
	DialTimeout time.Duration
	RecvTimeout time.Duration
	SendTimeout time.Duration

	// BackoffFloor is the minimum time Manager keeps a newly failed peer
	// out of ShouldSkip's clear set. Zero disables backoff bookkeeping.
	BackoffFloor time.Duration
	// InFlightLimit bounds the number of outstanding dial attempts the
	// Manager deduplicates against. It is a capacity hint for the LRU
	// backing store, not a hard dial concurrency cap.
	InFlightLimit int
}

// Manager dials outgoing sockets and drives the handshake side of JOIN,
// NEIGHBOUR and SHUFFLE exchanges. It never holds view state; it only
// returns established Conns (or, for shuffle, a fire-and-forget error) and
// leaves recording the result to the caller, which is the node's single
// event-serialized loop.
//
// Manager also offers two pieces of soft bookkeeping against redial
// storms: an in-flight set (hashicorp/golang-lru, via TryBeginDial and
// EndDial) that lets a caller avoid dialing the same peer twice at once,
// and a bounded backoff cache (VictoriaMetrics/fastcache, via
// RecordFailure and ShouldSkip) recording each peer's last failure time.
// The Dial* methods neither consult nor update either of them; they are
// used only by callers that invoke those methods explicitly. ShouldSkip
// is advisory and never blocks a dial.
type Manager struct {
	local wire.Identifier
	sink  Sink
	cfg   DialConfig

	inFlight *lru.Cache
	backoff  *fastcache.Cache
}

// SetSink sets the sink new outgoing connections report to. Construction
// of a node and its dial Manager is mutually dependent (the node needs a
// Manager to dial with, the Manager needs the node as its Sink), so sink
// may be supplied via NewManager or set afterward — but it must be set
// before the first dial.
func (m *Manager) SetSink(sink Sink) {
	m.sink = sink
}

// NewManager builds a Manager. local is this node's own identifier, sent
// as the originator in every handshake frame that requires one. sink may
// be nil if it will be supplied later via SetSink.
func NewManager(local wire.Identifier, sink Sink, cfg DialConfig) (*Manager, error) {
	limit := cfg.InFlightLimit
	if limit <= 0 {
		limit = 256
	}
	inFlight, err := lru.New(limit)
	if err != nil {
		return nil, fmt.Errorf("p2p: building dial dedup cache: %w", err)
	}
	return &Manager{
		local:    local,
		sink:     sink,
		cfg:      cfg,
		inFlight: inFlight,
		backoff:  fastcache.New(1 << 20),
	}, nil
}

// TryBeginDial registers target as having an in-flight dial attempt. It
// returns false if a dial to target is already outstanding, in which case
// the caller should not start a second one.
func (m *Manager) TryBeginDial(target wire.Identifier) bool {
	present, _ := m.inFlight.ContainsOrAdd(target.String(), struct{}{})
	return !present
}

// EndDial clears target's in-flight marker. Callers must call this exactly
// once for every TryBeginDial that returned true, regardless of outcome.
func (m *Manager) EndDial(target wire.Identifier) {
	m.inFlight.Remove(target.String())
}

// RecordFailure notes that a dial or handshake to target just failed, for
// ShouldSkip's advisory backoff window.
func (m *Manager) RecordFailure(target wire.Identifier) {
	if m.cfg.BackoffFloor <= 0 {
		return
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(time.Now().UnixNano()))
	m.backoff.Set([]byte(target.String()), v[:])
}

// ShouldSkip reports whether target failed recently enough that a fresh
// candidate should be preferred, absent better options.
func (m *Manager) ShouldSkip(target wire.Identifier) bool {
	if m.cfg.BackoffFloor <= 0 {
		return false
	}
	v, ok := m.backoff.HasGet(nil, []byte(target.String()))
	if !ok || len(v) < 8 {
		return false
	}
	last := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
	return time.Since(last) < m.cfg.BackoffFloor
}

func (m *Manager) dial(ctx context.Context, target wire.Identifier) (net.Conn, error) {
	d := net.Dialer{Timeout: m.cfg.DialTimeout}
	return d.DialContext(ctx, "tcp", target.TCPAddr().String())
}

// DialJoin opens a socket to target and sends JOIN. On success it returns
// a Conn in StateWaitForSocket; the caller registers the peer with the
// node and then calls Conn.GoAhead.
func (m *Manager) DialJoin(ctx context.Context, target wire.Identifier) (*Conn, error) {
	sock, err := m.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	c := NewOutgoing(sock, target, m.sink, m.cfg.RecvTimeout, m.cfg.SendTimeout)
	if err := c.writeFrame(wire.Join(m.local)); err != nil {
		return nil, err
	}
	return c, nil
}

// DialJoinReply opens a socket to target and sends JOINREPLY, used by the
// forward-join random-walk terminus to complete the walk.
func (m *Manager) DialJoinReply(ctx context.Context, target wire.Identifier) (*Conn, error) {
	sock, err := m.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	c := NewOutgoing(sock, target, m.sink, m.cfg.RecvTimeout, m.cfg.SendTimeout)
	if err := c.writeFrame(wire.JoinReply(m.local)); err != nil {
		return nil, err
	}
	return c, nil
}

// DialNeighbour opens a socket to target, sends a NEIGHBOUR request at the
// given priority, and waits synchronously for ACCEPT/DECLINE. On ACCEPT it
// returns a Conn in StateWaitForSocket; on DECLINE it returns ErrDeclined
// and the socket is already closed.
func (m *Manager) DialNeighbour(ctx context.Context, target wire.Identifier, highPriority bool) (*Conn, error) {
	sock, err := m.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	c := NewOutgoing(sock, target, m.sink, m.cfg.RecvTimeout, m.cfg.SendTimeout)

	frame := wire.LNeighbour(m.local)
	if highPriority {
		frame = wire.HNeighbour(m.local)
	}
	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	if m.cfg.RecvTimeout > 0 {
		_ = sock.SetReadDeadline(time.Now().Add(m.cfg.RecvTimeout))
	}
	kind, err := wire.ReadKind(sock)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	switch kind {
	case wire.KindAccept:
		return c, nil
	case wire.KindDecline:
		_ = c.Close()
		return nil, ErrDeclined
	default:
		_ = c.Close()
		return nil, ErrUnexpectedReply
	}
}

// DialShuffleReply opens a short-lived socket to target and sends
// SHUFFLEREPLY carrying the sampled xlist, then closes.
func (m *Manager) DialShuffleReply(ctx context.Context, target wire.Identifier, xlist []wire.Identifier) error {
	sock, err := m.dial(ctx, target)
	if err != nil {
		return err
	}
	c := NewOutgoing(sock, target, m.sink, m.cfg.RecvTimeout, m.cfg.SendTimeout)
	defer c.Close()
	return c.writeFrame(wire.ShuffleReply(xlist))
}
