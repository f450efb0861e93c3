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

// Package flood implements the reference flooding-broadcast application
// described as a testing sample: it rides on a hyparview.Node's
// link-up/link-down/deliver callbacks and forwards every fresh payload to
// every active peer except whichever one it arrived from, tracking
// already-delivered messages by content hash so each one reaches the
// application at most once regardless of how many paths it travels.
package flood

import (
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	ethlog "github.com/ethereum/go-ethereum/log"

	"github.com/emfa/gen-hypar/hyparview"
	"github.com/emfa/gen-hypar/wire"
)

// seenCacheBytes bounds the dedup cache, since the wire format gives no
// eviction policy for delivered-message bookkeeping.
const seenCacheBytes = 32 << 20

// Flooder delivers each broadcast message to every reachable node exactly
// once. It is a hyparview.Callback: the node invokes it directly from
// connection goroutines, so every method here must be safe for
// concurrent use.
//
// Every message on the wire carries its originator's identifier ahead of
// the payload (see envelope/parseEnvelope), so every node along every
// relay path computes the same dedup key for the same message; keying on
// the immediate relay hop instead would defeat dedup the moment a message
// reaches a node by two different paths.
type Flooder struct {
	self wire.Identifier
	node *hyparview.Node

	onDeliver func(origin wire.Identifier, payload []byte)

	mu   sync.Mutex
	seen *fastcache.Cache
}

// NewFlooder builds a Flooder for a node identified by self. onDeliver,
// if non-nil, is invoked once per distinct message the local application
// receives, named by its originator rather than whichever peer relayed it.
func NewFlooder(self wire.Identifier, onDeliver func(origin wire.Identifier, payload []byte)) *Flooder {
	return &Flooder{
		self:      self,
		onDeliver: onDeliver,
		seen:      fastcache.New(seenCacheBytes),
	}
}

// Attach binds the flooder to the node whose active view it floods over.
// Call once, before the node starts accepting connections.
func (f *Flooder) Attach(n *hyparview.Node) {
	f.node = n
}

// Broadcast originates a new message: wraps it with this node as
// originator, delivers it locally, and floods it to every active peer.
func (f *Flooder) Broadcast(payload []byte) {
	f.receive(f.self, f.self, envelope(f.self, payload))
}

// envelope prepends origin's wire identifier to payload.
func envelope(origin wire.Identifier, payload []byte) []byte {
	id := origin.Encode()
	buf := make([]byte, 0, wire.IdentifierSize+len(payload))
	buf = append(buf, id[:]...)
	buf = append(buf, payload...)
	return buf
}

// parseEnvelope splits a MESSAGE payload back into its originator and body.
func parseEnvelope(raw []byte) (origin wire.Identifier, body []byte, err error) {
	if len(raw) < wire.IdentifierSize {
		return wire.Identifier{}, nil, fmt.Errorf("flood: envelope too short: %d bytes", len(raw))
	}
	origin, err = wire.DecodeIdentifier(raw[:wire.IdentifierSize])
	if err != nil {
		return wire.Identifier{}, nil, err
	}
	return origin, raw[wire.IdentifierSize:], nil
}

// receive is the common path for a message entering this node, whether
// self-originated (Broadcast) or arriving from a peer (Deliver). relayer
// is excluded from the outward flood; it is the local node's own
// identifier for a self-originated message, so nothing is excluded.
func (f *Flooder) receive(relayer, origin wire.Identifier, raw []byte) {
	key := dedupKey(origin, raw[wire.IdentifierSize:])
	if f.markSeen(key) {
		return
	}
	if f.onDeliver != nil {
		f.onDeliver(origin, raw[wire.IdentifierSize:])
	}
	f.flood(relayer, raw)
}

func (f *Flooder) flood(relayer wire.Identifier, raw []byte) {
	if f.node == nil {
		return
	}
	for _, p := range f.node.Peers() {
		if p.ID == relayer {
			continue
		}
		if err := p.Send(raw); err != nil {
			ethlog.Debug("flood: send failed", "peer", p.ID, "err", err)
		}
	}
}

// markSeen records key as delivered, returning true if it was already
// present (a duplicate).
func (f *Flooder) markSeen(key []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen.Has(key) {
		return true
	}
	f.seen.Set(key, nil)
	return false
}

// dedupKey is sha1(payload ‖ encoded(origin)), stored in a single bounded
// set per the design notes' resolution of the source's ambiguous
// balanced-tree-or-list dedup bookkeeping.
func dedupKey(origin wire.Identifier, payload []byte) []byte {
	h := sha1.New()
	h.Write(payload)
	id := origin.Encode()
	h.Write(id[:])
	return h.Sum(nil)
}

// LinkUp implements hyparview.Callback. The reference flooder does not
// react to topology changes; broadcast always targets the current peer
// set queried fresh from the node.
func (f *Flooder) LinkUp(wire.Identifier) {}

// LinkDown implements hyparview.Callback.
func (f *Flooder) LinkDown(wire.Identifier) {}

// Deliver implements hyparview.Callback: it is invoked for every MESSAGE
// frame received from an active peer. sender is the immediate relay hop,
// used only to avoid echoing the message straight back.
func (f *Flooder) Deliver(sender wire.Identifier, payload []byte) {
	origin, _, err := parseEnvelope(payload)
	if err != nil {
		ethlog.Debug("flood: dropping malformed message", "sender", sender, "err", err)
		return
	}
	f.receive(sender, origin, payload)
}

var _ hyparview.Callback = (*Flooder)(nil)
