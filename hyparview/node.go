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
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	ethlog "github.com/ethereum/go-ethereum/log"

	"github.com/emfa/gen-hypar/p2p"
	"github.com/emfa/gen-hypar/wire"
)

// Node is the event-serialized HyParView membership component. Every view
// mutation runs on a single internal goroutine reached exclusively through
// submit/submitBool; connection FSMs (running on their own goroutines)
// and the public API both funnel through it, so active/passive view data
// is never touched by more than one goroutine at a time.
type Node struct {
	self wire.Identifier
	cfg  Config
	cb   Callback

	manager *p2p.Manager
	rng     *rand.Rand

	active    *activeView
	passive   *passiveView
	lastXList []wire.Identifier

	events chan func()
	stopCh chan struct{}
	stop   sync.Once

	listener net.Listener
	wg       sync.WaitGroup
}

var _ p2p.Sink = (*Node)(nil)

// NewNode builds a Node. cb may be nil (NopCallback is substituted). rng
// may be nil, in which case a process-seeded source is created; tests that
// need deterministic sequences should inject their own.
func NewNode(self wire.Identifier, cfg Config, cb Callback, manager *p2p.Manager, rng *rand.Rand) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cb == nil {
		cb = NopCallback{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Node{
		self:    self,
		cfg:     cfg,
		cb:      cb,
		manager: manager,
		rng:     rng,
		active:  newActiveView(cfg.ActiveSize),
		passive: newPassiveView(cfg.PassiveSize),
		events:  make(chan func()),
		stopCh:  make(chan struct{}),
	}, nil
}

// submit runs fn on the node's event-serialization goroutine and blocks
// until it completes. It returns ErrStopped if the node has been stopped.
func (n *Node) submit(fn func()) error {
	done := make(chan struct{})
	select {
	case n.events <- func() { fn(); close(done) }:
	case <-n.stopCh:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-n.stopCh:
		return ErrStopped
	}
}

// submitBool is submit for handlers that report a bool decision back to
// their caller; a stopped node always reports false.
func (n *Node) submitBool(fn func() bool) bool {
	var result bool
	if err := n.submit(func() { result = fn() }); err != nil {
		return false
	}
	return result
}

func (n *Node) eventLoop() {
	for {
		select {
		case fn := <-n.events:
			fn()
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) acceptLoop() {
	for {
		sock, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				ethlog.Warn("hyparview: listener accept failed", "self", n.self, "err", err)
				return
			}
		}
		p2p.NewIncoming(sock, n, n.cfg.Timeout, n.cfg.SendTimeout)
	}
}

func (n *Node) shuffleLoop() {
	ticker := time.NewTicker(n.cfg.ShufflePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Shuffle()
		case <-n.stopCh:
			return
		}
	}
}

// Start opens the listener, seeds the shuffle ticker, and begins serving.
func (n *Node) Start(listenAddr string) error {
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	n.listener = l

	n.wg.Add(2)
	go func() { defer n.wg.Done(); n.eventLoop() }()
	go func() { defer n.wg.Done(); n.acceptLoop() }()

	if n.cfg.ShufflePeriod > 0 {
		n.wg.Add(1)
		go func() { defer n.wg.Done(); n.shuffleLoop() }()
	}

	ethlog.Info("hyparview: node started", "self", n.self, "listen", listenAddr)
	return nil
}

// Stop closes the listener, disconnects every active peer, and halts the
// event loop. It is idempotent.
func (n *Node) Stop() error {
	n.stop.Do(func() {
		var peers []p2p.Peer
		_ = n.submit(func() {
			peers = append([]p2p.Peer(nil), n.active.peers...)
			n.active.peers = nil
		})

		close(n.stopCh)
		if n.listener != nil {
			_ = n.listener.Close()
		}
		for _, p := range peers {
			p.Conn.Disconnect()
		}
		n.wg.Wait()
		ethlog.Info("hyparview: node stopped", "self", n.self)
	})
	return nil
}

// JoinCluster performs the initial JOIN handshake against contact.
func (n *Node) JoinCluster(contact wire.Identifier) error {
	conn, err := n.manager.DialJoin(context.Background(), contact)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoContact, err)
	}
	var ok bool
	if err := n.submit(func() {
		ok = n.addNodeActive(p2p.Peer{ID: contact, Conn: conn})
	}); err != nil {
		_ = conn.Close()
		return err
	}
	if !ok {
		_ = conn.Close()
		return ErrAlreadyInActive
	}
	conn.GoAhead()
	return nil
}

// Shuffle forces an immediate shuffle tick.
func (n *Node) Shuffle() {
	_ = n.submit(n.doShuffle)
}

// Peers returns a snapshot of the current active view.
func (n *Node) Peers() []p2p.Peer {
	var out []p2p.Peer
	_ = n.submit(func() {
		out = append([]p2p.Peer(nil), n.active.peers...)
	})
	return out
}

// PassivePeers returns a snapshot of the current passive view.
func (n *Node) PassivePeers() []wire.Identifier {
	var out []wire.Identifier
	_ = n.submit(func() {
		out = n.passive.snapshot()
	})
	return out
}

// --- view-management policy (spec.md §4.4.5 / §4.4.6); runs only inside
// the event-serialization goroutine. ---

func (n *Node) removeActive(id wire.Identifier) (p2p.Peer, bool) {
	p, ok := n.active.remove(id)
	if ok {
		n.cb.LinkDown(id)
	}
	return p, ok
}

// addNodeActive implements §4.4.5. It returns false without mutating
// anything if p is self or already active; the caller owns releasing p's
// connection in that case.
func (n *Node) addNodeActive(p p2p.Peer) bool {
	if p.ID == n.self || n.active.contains(p.ID) {
		return false
	}
	if n.active.full() {
		if evicted, ok := n.active.randomEvict(n.rng); ok {
			evicted.Conn.Disconnect()
			n.cb.LinkDown(evicted.ID)
			n.addNodePassive(evicted.ID)
		}
	}
	n.active.insert(p)
	n.passive.remove(p.ID)
	n.cb.LinkUp(p.ID)
	return true
}

// addNodePassive implements §4.4.6's add_node_passive.
func (n *Node) addNodePassive(id wire.Identifier) {
	if id == n.self || n.active.contains(id) || n.passive.contains(id) {
		return
	}
	n.passive.makeRoom(n.rng, 1, nil)
	n.passive.insert(id)
}

// integrate implements §4.4.6's integrate(xlist, eviction_hint).
func (n *Node) integrate(xlist []wire.Identifier, hint []wire.Identifier) {
	filtered := make([]wire.Identifier, 0, len(xlist))
	for _, id := range xlist {
		if id == n.self || n.active.contains(id) || n.passive.contains(id) {
			continue
		}
		dup := false
		for _, f := range filtered {
			if f == id {
				dup = true
				break
			}
		}
		if !dup {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) > n.cfg.PassiveSize {
		filtered = filtered[:n.cfg.PassiveSize]
	}
	if len(filtered) == 0 {
		return
	}
	n.passive.makeRoom(n.rng, len(filtered), hint)
	for _, id := range filtered {
		n.passive.insert(id)
	}
}

func (n *Node) doShuffle() {
	if n.active.size() == 0 {
		return
	}
	xlist := make([]wire.Identifier, 0, 1+n.cfg.KActive+n.cfg.KPassive)
	xlist = append(xlist, n.self)
	xlist = append(xlist, n.active.sample(n.rng, n.cfg.KActive)...)
	xlist = append(xlist, n.passive.sample(n.rng, n.cfg.KPassive)...)

	peer, ok := n.active.randomExcept(n.rng)
	if !ok {
		return
	}
	n.lastXList = xlist

	ttl := n.cfg.ARWL
	if ttl > 0 {
		ttl--
	}
	if err := peer.Conn.ShuffleMsg(n.self, ttl, xlist); err != nil {
		ethlog.Debug("hyparview: shuffle send failed", "peer", peer.ID, "err", err)
	}
}

func (n *Node) handleForwardJoin(sender, newID wire.Identifier, ttl uint8) {
	if ttl == 0 || n.active.size() == 1 {
		conn, err := n.manager.DialJoinReply(context.Background(), newID)
		if err != nil {
			ethlog.Debug("hyparview: forward-join terminus dial failed", "new", newID, "err", err)
			return
		}
		if n.addNodeActive(p2p.Peer{ID: newID, Conn: conn}) {
			conn.GoAhead()
		} else {
			_ = conn.Close()
		}
		return
	}
	if ttl == n.cfg.PRWL {
		n.addNodePassive(newID)
	}
	peer, ok := n.active.randomExcept(n.rng, sender)
	if !ok {
		return
	}
	if err := peer.Conn.ForwardJoinMsg(newID, ttl-1); err != nil {
		ethlog.Debug("hyparview: forward-join propagation failed", "peer", peer.ID, "err", err)
	}
}

func (n *Node) handleShuffle(sender, requester wire.Identifier, ttl uint8, xlist []wire.Identifier) {
	if ttl > 0 && n.active.size() > 1 {
		if peer, ok := n.active.randomExcept(n.rng, sender); ok {
			if err := peer.Conn.ShuffleMsg(requester, ttl-1, xlist); err != nil {
				ethlog.Debug("hyparview: shuffle propagation failed", "peer", peer.ID, "err", err)
			}
		}
		return
	}
	replyXList := n.passive.sample(n.rng, len(xlist))
	if err := n.manager.DialShuffleReply(context.Background(), requester, replyXList); err != nil {
		ethlog.Debug("hyparview: shuffle reply dial failed", "requester", requester, "err", err)
	}
	n.integrate(xlist, replyXList)
}

// handleFailure implements the replacement loop of §4.4.4.
func (n *Node) handleFailure(dead wire.Identifier) {
	n.removeActive(dead)

	var kept []wire.Identifier
	defer func() {
		for _, id := range kept {
			n.addNodePassive(id)
		}
	}()

	for {
		candidate, ok := n.passive.randomRemove(n.rng)
		if !ok {
			return
		}
		highPriority := n.active.size() == 0
		conn, err := n.manager.DialNeighbour(context.Background(), candidate, highPriority)
		switch {
		case err == nil:
			if n.addNodeActive(p2p.Peer{ID: candidate, Conn: conn}) {
				conn.GoAhead()
			} else {
				_ = conn.Close()
				kept = append(kept, candidate)
			}
			return
		case errors.Is(err, p2p.ErrDeclined):
			kept = append(kept, candidate)
		default:
			ethlog.Debug("hyparview: neighbour dial failed during recovery", "candidate", candidate, "err", err)
		}
	}
}

// --- p2p.Sink implementation. Methods here run on a Conn's own goroutine
// and cross into the serialization domain via submit/submitBool. ---

func (n *Node) HandleJoin(sender wire.Identifier, conn *p2p.Conn) bool {
	return n.submitBool(func() bool {
		others := append([]p2p.Peer(nil), n.active.peers...)
		if !n.addNodeActive(p2p.Peer{ID: sender, Conn: conn}) {
			return false
		}
		for _, p := range others {
			if err := p.Conn.ForwardJoinMsg(sender, n.cfg.ARWL); err != nil {
				ethlog.Debug("hyparview: forward-join broadcast failed", "peer", p.ID, "err", err)
			}
		}
		return true
	})
}

func (n *Node) HandleJoinReply(sender wire.Identifier, conn *p2p.Conn) bool {
	return n.submitBool(func() bool {
		return n.addNodeActive(p2p.Peer{ID: sender, Conn: conn})
	})
}

func (n *Node) HandleNeighbour(sender wire.Identifier, conn *p2p.Conn, highPriority bool) bool {
	return n.submitBool(func() bool {
		if !highPriority && n.active.full() {
			return false
		}
		return n.addNodeActive(p2p.Peer{ID: sender, Conn: conn})
	})
}

func (n *Node) HandleShuffleReply(xlist []wire.Identifier) {
	_ = n.submit(func() {
		hint := n.lastXList
		n.integrate(xlist, hint)
		n.lastXList = nil
	})
}

func (n *Node) HandleForwardJoin(sender wire.Identifier, newID wire.Identifier, ttl uint8) {
	_ = n.submit(func() { n.handleForwardJoin(sender, newID, ttl) })
}

func (n *Node) HandleShuffle(sender wire.Identifier, requester wire.Identifier, ttl uint8, xlist []wire.Identifier) {
	_ = n.submit(func() { n.handleShuffle(sender, requester, ttl, xlist) })
}

func (n *Node) HandleDisconnect(sender wire.Identifier) {
	_ = n.submit(func() {
		if _, ok := n.removeActive(sender); ok {
			n.addNodePassive(sender)
		}
	})
}

func (n *Node) HandleMessage(sender wire.Identifier, payload []byte) {
	n.cb.Deliver(sender, payload)
}

func (n *Node) HandleLinkDown(sender wire.Identifier, err error) {
	if err != nil {
		ethlog.Debug("hyparview: active link down", "peer", sender, "err", err)
	}
	_ = n.submit(func() { n.handleFailure(sender) })
}
