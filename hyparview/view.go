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
	"math/rand"

	"github.com/emfa/gen-hypar/p2p"
	"github.com/emfa/gen-hypar/wire"
)

// activeView is a flat, insertion-ordered vector of peers, keyed by
// identifier on removal. At the sizes this protocol operates at (a
// handful of entries) a vector beats any hash-table overhead.
type activeView struct {
	peers []p2p.Peer
	max   int
}

func newActiveView(max int) *activeView {
	return &activeView{max: max}
}

func (v *activeView) size() int { return len(v.peers) }

func (v *activeView) full() bool { return len(v.peers) >= v.max }

func (v *activeView) contains(id wire.Identifier) bool {
	_, ok := v.get(id)
	return ok
}

func (v *activeView) get(id wire.Identifier) (p2p.Peer, bool) {
	for _, p := range v.peers {
		if p.ID == id {
			return p, true
		}
	}
	return p2p.Peer{}, false
}

func (v *activeView) ids() []wire.Identifier {
	out := make([]wire.Identifier, len(v.peers))
	for i, p := range v.peers {
		out[i] = p.ID
	}
	return out
}

// insert appends p unconditionally; callers enforce disjointness and
// capacity (the eviction policy belongs to the node, which must also
// tear down the evicted connection).
func (v *activeView) insert(p p2p.Peer) {
	v.peers = append(v.peers, p)
}

// remove deletes the entry for id, if present, returning it.
func (v *activeView) remove(id wire.Identifier) (p2p.Peer, bool) {
	for i, p := range v.peers {
		if p.ID == id {
			v.peers = append(v.peers[:i], v.peers[i+1:]...)
			return p, true
		}
	}
	return p2p.Peer{}, false
}

// randomExcept returns a uniformly random peer whose identifier is not in
// except, or false if no such peer exists.
func (v *activeView) randomExcept(rng *rand.Rand, except ...wire.Identifier) (p2p.Peer, bool) {
	var candidates []p2p.Peer
outer:
	for _, p := range v.peers {
		for _, e := range except {
			if p.ID == e {
				continue outer
			}
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return p2p.Peer{}, false
	}
	return candidates[rng.Intn(len(candidates))], true
}

// randomEvict removes and returns one uniformly random entry.
func (v *activeView) randomEvict(rng *rand.Rand) (p2p.Peer, bool) {
	if len(v.peers) == 0 {
		return p2p.Peer{}, false
	}
	i := rng.Intn(len(v.peers))
	p := v.peers[i]
	v.peers = append(v.peers[:i], v.peers[i+1:]...)
	return p, true
}

// sample returns up to k distinct identifiers drawn without replacement.
func (v *activeView) sample(rng *rand.Rand, k int) []wire.Identifier {
	return sampleIdentifiers(rng, v.ids(), k)
}

// passiveView is a bounded, unordered set of bare identifiers.
type passiveView struct {
	ids []wire.Identifier
	max int
}

func newPassiveView(max int) *passiveView {
	return &passiveView{max: max}
}

func (v *passiveView) size() int { return len(v.ids) }

func (v *passiveView) contains(id wire.Identifier) bool {
	for _, x := range v.ids {
		if x == id {
			return true
		}
	}
	return false
}

func (v *passiveView) insert(id wire.Identifier) {
	v.ids = append(v.ids, id)
}

func (v *passiveView) remove(id wire.Identifier) bool {
	for i, x := range v.ids {
		if x == id {
			v.ids = append(v.ids[:i], v.ids[i+1:]...)
			return true
		}
	}
	return false
}

// randomRemove deletes and returns one uniformly random entry.
func (v *passiveView) randomRemove(rng *rand.Rand) (wire.Identifier, bool) {
	if len(v.ids) == 0 {
		return wire.Identifier{}, false
	}
	i := rng.Intn(len(v.ids))
	id := v.ids[i]
	v.ids = append(v.ids[:i], v.ids[i+1:]...)
	return id, true
}

func (v *passiveView) randomID(rng *rand.Rand) (wire.Identifier, bool) {
	if len(v.ids) == 0 {
		return wire.Identifier{}, false
	}
	return v.ids[rng.Intn(len(v.ids))], true
}

func (v *passiveView) snapshot() []wire.Identifier {
	out := make([]wire.Identifier, len(v.ids))
	copy(out, v.ids)
	return out
}

func (v *passiveView) sample(rng *rand.Rand, k int) []wire.Identifier {
	return sampleIdentifiers(rng, v.ids, k)
}

// makeRoom evicts entries until there are at least `need` free slots,
// preferentially removing ids that appear in hint before falling back to
// uniform-random removal. It never evicts below zero entries and never
// evicts more than necessary.
func (v *passiveView) makeRoom(rng *rand.Rand, need int, hint []wire.Identifier) {
	free := v.max - len(v.ids)
	if free >= need {
		return
	}
	toEvict := need - free

	hinted := make(map[wire.Identifier]bool, len(hint))
	for _, h := range hint {
		hinted[h] = true
	}
	for toEvict > 0 {
		removed := false
		for i, id := range v.ids {
			if hinted[id] {
				v.ids = append(v.ids[:i], v.ids[i+1:]...)
				toEvict--
				removed = true
				break
			}
		}
		if !removed {
			break
		}
		if toEvict == 0 {
			return
		}
	}
	for toEvict > 0 && len(v.ids) > 0 {
		i := rng.Intn(len(v.ids))
		v.ids = append(v.ids[:i], v.ids[i+1:]...)
		toEvict--
	}
}

// sampleIdentifiers draws up to k distinct entries from ids without
// replacement, via a partial Fisher-Yates shuffle on a scratch copy.
func sampleIdentifiers(rng *rand.Rand, ids []wire.Identifier, k int) []wire.Identifier {
	if k <= 0 || len(ids) == 0 {
		return nil
	}
	if k > len(ids) {
		k = len(ids)
	}
	scratch := make([]wire.Identifier, len(ids))
	copy(scratch, ids)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(scratch)-i)
		scratch[i], scratch[j] = scratch[j], scratch[i]
	}
	return scratch[:k]
}
