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
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/emfa/gen-hypar/p2p"
	"github.com/emfa/gen-hypar/wire"
)

// --- test doubles ---

// discardConn is a net.Conn whose Write never blocks and whose Read
// blocks until Close, used to give view-management unit tests a *p2p.Conn
// that can safely be disconnected without a peer on the other end.
type discardConn struct {
	once   sync.Once
	closed chan struct{}
}

func newDiscardConn() *discardConn { return &discardConn{closed: make(chan struct{})} }

func (d *discardConn) Read(b []byte) (int, error) {
	<-d.closed
	return 0, net.ErrClosed
}
func (d *discardConn) Write(b []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, net.ErrClosed
	default:
		return len(b), nil
	}
}
func (d *discardConn) Close() error                       { d.once.Do(func() { close(d.closed) }); return nil }
func (d *discardConn) LocalAddr() net.Addr                { return testAddr{} }
func (d *discardConn) RemoteAddr() net.Addr               { return testAddr{} }
func (d *discardConn) SetDeadline(time.Time) error        { return nil }
func (d *discardConn) SetReadDeadline(time.Time) error    { return nil }
func (d *discardConn) SetWriteDeadline(time.Time) error   { return nil }

type testAddr struct{}

func (testAddr) Network() string { return "test" }
func (testAddr) String() string  { return "test" }

// noopSink is a placeholder p2p.Sink for Conns that are never driven
// through their active read loop in these tests.
type noopSink struct{}

func (noopSink) HandleJoin(wire.Identifier, *p2p.Conn) bool              { return false }
func (noopSink) HandleJoinReply(wire.Identifier, *p2p.Conn) bool         { return false }
func (noopSink) HandleNeighbour(wire.Identifier, *p2p.Conn, bool) bool   { return false }
func (noopSink) HandleShuffleReply([]wire.Identifier)                    {}
func (noopSink) HandleForwardJoin(wire.Identifier, wire.Identifier, uint8) {}
func (noopSink) HandleShuffle(wire.Identifier, wire.Identifier, uint8, []wire.Identifier) {}
func (noopSink) HandleDisconnect(wire.Identifier)                       {}
func (noopSink) HandleMessage(wire.Identifier, []byte)                  {}
func (noopSink) HandleLinkDown(wire.Identifier, error)                  {}

// testPeer builds a p2p.Peer backed by a discardConn: safe to insert,
// evict, and Disconnect in isolation, since GoAhead is never called so
// the Conn never reaches StateActive and never notifies noopSink.
func testPeer(id wire.Identifier) p2p.Peer {
	conn := p2p.NewOutgoing(newDiscardConn(), id, noopSink{}, 0, 0)
	return p2p.Peer{ID: id, Conn: conn}
}

func freeTCPAddr(t *testing.T) (wire.Identifier, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())
	id, err := wire.NewIdentifier(addr.IP, uint16(addr.Port))
	require.NoError(t, err)
	return id, fmt.Sprintf("127.0.0.1:%d", addr.Port)
}

func newTestNode(t *testing.T, cfg Config) (*Node, wire.Identifier, string) {
	t.Helper()
	self, listenAddr := freeTCPAddr(t)
	manager, err := p2p.NewManager(self, nil, p2p.DialConfig{
		DialTimeout: time.Second,
		RecvTimeout: time.Second,
		SendTimeout: time.Second,
	})
	require.NoError(t, err)
	n, err := NewNode(self, cfg, nil, manager, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	manager.SetSink(n)
	require.NoError(t, n.Start(listenAddr))
	t.Cleanup(func() { _ = n.Stop() })
	return n, self, listenAddr
}

func scenarioConfig() Config {
	return Config{
		ActiveSize:  3,
		PassiveSize: 5,
		ARWL:        3,
		PRWL:        2,
		KActive:     2,
		KPassive:    2,
		Timeout:     2 * time.Second,
		SendTimeout: 2 * time.Second,
	}
}

// --- view-management policy unit/property tests (P1, P2, P4, P5, P6) ---

func newBareNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	n, err := NewNode(randID(fuzz.New()), cfg, nil, nil, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return n
}

// checkInvariants verifies P1 and P2 against a node's current view state.
func checkInvariants(t *testing.T, n *Node) {
	t.Helper()
	require.False(t, n.active.contains(n.self), "P1: self must never be active")
	require.False(t, n.passive.contains(n.self), "P1: self must never be passive")
	for _, id := range n.active.ids() {
		require.False(t, n.passive.contains(id), "P1: active/passive must be disjoint")
	}
	require.LessOrEqual(t, n.active.size(), n.cfg.ActiveSize, "P2: active view over capacity")
	require.LessOrEqual(t, n.passive.size(), n.cfg.PassiveSize, "P2: passive view over capacity")
}

func TestAddNodeActiveBasic(t *testing.T) {
	n := newBareNode(t, Config{ActiveSize: 2, PassiveSize: 2})
	f := fuzz.New()
	a := randID(f)

	require.True(t, n.addNodeActive(testPeer(a)))
	checkInvariants(t, n)

	// P4: re-inserting an id already active leaves all views unchanged.
	before := append([]wire.Identifier(nil), n.active.ids()...)
	require.False(t, n.addNodeActive(testPeer(a)))
	require.Equal(t, before, n.active.ids())
	checkInvariants(t, n)

	require.False(t, n.addNodeActive(p2p.Peer{ID: n.self}))
}

func TestAddNodeActiveEvictsAndDemotesToPassive(t *testing.T) {
	n := newBareNode(t, Config{ActiveSize: 1, PassiveSize: 3})
	f := fuzz.New()
	a, b := randID(f), randID(f)

	require.True(t, n.addNodeActive(testPeer(a)))
	require.True(t, n.addNodeActive(testPeer(b)))

	require.True(t, n.active.contains(b))
	require.False(t, n.active.contains(a))
	require.True(t, n.passive.contains(a), "evicted active peer should be demoted to passive")
	checkInvariants(t, n)
}

func TestAddNodePassivePreconditions(t *testing.T) {
	n := newBareNode(t, Config{ActiveSize: 2, PassiveSize: 2})
	f := fuzz.New()
	a := randID(f)

	n.addNodePassive(n.self)
	require.Equal(t, 0, n.passive.size(), "self must never enter passive")

	require.True(t, n.addNodeActive(testPeer(a)))
	n.addNodePassive(a)
	require.False(t, n.passive.contains(a), "active member must never also be passive")
	checkInvariants(t, n)
}

func TestIntegrateDisjointAndBounded(t *testing.T) {
	n := newBareNode(t, Config{ActiveSize: 2, PassiveSize: 2})
	f := fuzz.New()
	active := randID(f)
	require.True(t, n.addNodeActive(testPeer(active)))

	xlist := []wire.Identifier{n.self, active, randID(f), randID(f), randID(f)}
	n.integrate(xlist, nil)

	checkInvariants(t, n)
	require.False(t, n.passive.contains(active))
	require.LessOrEqual(t, n.passive.size(), n.cfg.PassiveSize)
}

// TestViewInvariantsUnderRandomOps drives random active/passive mutations
// through a seeded fuzzer and checks P1/P2 after every step, then P5 after
// every integrate call specifically.
func TestViewInvariantsUnderRandomOps(t *testing.T) {
	n := newBareNode(t, Config{ActiveSize: 4, PassiveSize: 6})
	f := fuzz.New().NilChance(0).NumElements(0, 4)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			n.addNodeActive(testPeer(randID(f)))
		case 1:
			n.addNodePassive(randID(f))
		case 2:
			var xlist []wire.Identifier
			f.Fuzz(&xlist)
			n.integrate(xlist, nil)
			for _, id := range n.passive.ids {
				require.False(t, n.active.contains(id), "P5: disjoint after integrate")
			}
			seen := make(map[wire.Identifier]bool)
			for _, id := range n.passive.ids {
				require.False(t, seen[id], "P5: no duplicate in passive after integrate")
				seen[id] = true
			}
		case 3:
			if id, ok := n.active.randomExcept(rng); ok {
				n.active.remove(id.ID)
			}
		}
		checkInvariants(t, n)
	}
}

// TestForwardJoinTTLBounded exercises P6: the random-walk depth for a
// forward-join cannot exceed its initial TTL, since every propagation hop
// strictly decrements it and the terminating cases stop the walk.
func TestForwardJoinTTLBounded(t *testing.T) {
	const initialTTL = 5
	n := newBareNode(t, Config{ActiveSize: 4, PassiveSize: 4, PRWL: 2})
	f := fuzz.New()
	for i := 0; i < 3; i++ {
		n.addNodeActive(testPeer(randID(f)))
	}
	sender := n.active.ids()[0]
	newNode := randID(f)

	hops := 0
	ttl := uint8(initialTTL)
	for {
		if ttl == 0 || n.active.size() == 1 {
			break
		}
		if ttl == n.cfg.PRWL {
			n.addNodePassive(newNode)
		}
		peer, ok := n.active.randomExcept(rand.New(rand.NewSource(int64(hops))), sender)
		if !ok {
			break
		}
		sender = peer.ID
		ttl--
		hops++
		if hops > initialTTL {
			t.Fatalf("forward-join propagated more hops (%d) than initial TTL (%d)", hops, initialTTL)
		}
	}
	require.LessOrEqual(t, hops, initialTTL)
}

// --- end-to-end scenarios (spec §8) ---

func TestTwoNodeJoin(t *testing.T) {
	b, bID, _ := newTestNode(t, scenarioConfig())
	a, aID, _ := newTestNode(t, scenarioConfig())

	require.NoError(t, a.JoinCluster(bID))

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	aPeers := a.Peers()
	require.Len(t, aPeers, 1)
	require.Equal(t, bID, aPeers[0].ID)

	bPeers := b.Peers()
	require.Len(t, bPeers, 1)
	require.Equal(t, aID, bPeers[0].ID)

	require.Empty(t, a.PassivePeers())
	require.Empty(t, b.PassivePeers())
}

func TestNeighbourDeclineWhenFull(t *testing.T) {
	cfg := scenarioConfig()
	cfg.ActiveSize = 1
	n, nID, _ := newTestNode(t, cfg)

	filler, fillerID, _ := newTestNode(t, scenarioConfig())
	require.NoError(t, filler.JoinCluster(nID))
	require.Eventually(t, func() bool { return len(n.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	requester, err := p2p.NewManager(wire.Identifier{IP: [4]byte{127, 0, 0, 1}, Port: 0}, noopSink{}, p2p.DialConfig{
		DialTimeout: time.Second, RecvTimeout: time.Second, SendTimeout: time.Second,
	})
	require.NoError(t, err)

	_, err = requester.DialNeighbour(context.Background(), nID, false)
	require.ErrorIs(t, err, p2p.ErrDeclined)

	require.Len(t, n.Peers(), 1)
	require.Equal(t, fillerID, n.Peers()[0].ID)
}
