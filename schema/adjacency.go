/*
 * TypeDB Schema Graph
 *
 * Copyright 2024 The TypeDB Schema Graph Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package schema

import (
	"encoding/binary"
	"sort"

	"github.com/vitaly-z/typedb/keycodec"
	"github.com/vitaly-z/typedb/kvstore"
)

/*
Edge is a directed, typed relationship between two type vertices.
From/To are weak references (vertex ids); the edge is owned by the
adjacency of both endpoints, which cross-reference each other - the
mirror-symmetry invariant of spec.md §4.4.
*/
type Edge struct {
	Encoding     keycodec.EdgeEncoding
	From         ID
	FromEncoding keycodec.VertexEncoding
	To           ID
	ToEncoding   keycodec.VertexEncoding
	Overridden   ID // NoID if absent
	Annotations  Annotations
}

func encodeEdgeValue(e *Edge) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[:8], uint64(e.Overridden))
	buf[8] = byte(e.Annotations)
	return buf
}

func decodeEdgeValue(b []byte) (ID, Annotations) {
	if len(b) < 9 {
		return NoID, 0
	}
	return ID(binary.BigEndian.Uint64(b[:8])), Annotations(b[8])
}

/*
edgeSet holds every edge of one encoding incident to one vertex in one
direction, indexed by peer id and kept sorted for forwardable iteration.
*/
type edgeSet struct {
	peers  []ID
	byPeer map[ID]*Edge
}

func newEdgeSet() *edgeSet {
	return &edgeSet{byPeer: make(map[ID]*Edge)}
}

func (s *edgeSet) get(peer ID) (*Edge, bool) {
	e, ok := s.byPeer[peer]
	return e, ok
}

func (s *edgeSet) put(e *Edge, peer ID) {
	if _, existed := s.byPeer[peer]; !existed {
		idx := sort.Search(len(s.peers), func(i int) bool { return s.peers[i] >= peer })
		s.peers = append(s.peers, NoID)
		copy(s.peers[idx+1:], s.peers[idx:])
		s.peers[idx] = peer
	}
	s.byPeer[peer] = e
}

func (s *edgeSet) remove(peer ID) (*Edge, bool) {
	e, ok := s.byPeer[peer]
	if !ok {
		return nil, false
	}
	delete(s.byPeer, peer)

	idx := sort.Search(len(s.peers), func(i int) bool { return s.peers[i] >= peer })
	if idx < len(s.peers) && s.peers[idx] == peer {
		s.peers = append(s.peers[:idx], s.peers[idx+1:]...)
	}
	return e, true
}

/*
iterator snapshots the current sorted peer order and returns a fresh
PeerIterator over it. Snapshotting on creation, then resolving each
edge from the live map on demand, is what lets an iterator survive
concurrent mutation of the same adjacency (spec.md §5): it never
re-emits an already-emitted peer, and Edge() always reflects whichever
state - pre- or post-mutation - the edge happens to be in at the time
of the call.
*/
func (s *edgeSet) iterator() *PeerIterator {
	snap := make([]ID, len(s.peers))
	copy(snap, s.peers)
	return &PeerIterator{set: s, snapshot: snap, pos: -1}
}

/*
PeerIterator is a forwardable sorted iterator over the adjacent
vertices of one edge encoding: Next advances it, Seek jumps forward to
the first remaining element >= a given id in O(log n) of the remaining
elements (spec.md §4.4).
*/
type PeerIterator struct {
	set      *edgeSet
	snapshot []ID
	pos      int
}

/*
Next advances the iterator and reports whether a further element is
available.
*/
func (it *PeerIterator) Next() bool {
	it.pos++
	return it.pos < len(it.snapshot)
}

/*
Peer returns the adjacent vertex id at the iterator's current position.
*/
func (it *PeerIterator) Peer() ID {
	return it.snapshot[it.pos]
}

/*
Edge returns the edge at the iterator's current position, or nil if it
has since been removed from the adjacency.
*/
func (it *PeerIterator) Edge() *Edge {
	if it.set == nil {
		return nil
	}
	e, _ := it.set.byPeer[it.snapshot[it.pos]]
	return e
}

/*
Seek moves the iterator to the first remaining element >= id and
reports whether one was found. A subsequent call to Peer/Edge reads
that element directly, without an intervening Next.
*/
func (it *PeerIterator) Seek(id ID) bool {
	start := it.pos
	if start < 0 {
		start = 0
	}
	idx := start + sort.Search(len(it.snapshot)-start, func(i int) bool { return it.snapshot[start+i] >= id })
	if idx >= len(it.snapshot) {
		it.pos = len(it.snapshot)
		return false
	}
	it.pos = idx
	return true
}

func emptyPeerIterator() *PeerIterator {
	return &PeerIterator{pos: -1}
}

type dirtyKey struct {
	encoding keycodec.EdgeEncoding
	peer     ID
}

type dirtyOp struct {
	peerEncoding keycodec.VertexEncoding
	deleted      bool
}

/*
Adjacency is one direction (inbound or outbound) of one vertex's typed
edge index (component C4 of the schema graph core).
*/
type Adjacency struct {
	owner *Vertex
	dir   keycodec.Direction
	sets  map[keycodec.EdgeEncoding]*edgeSet
	dirty map[dirtyKey]dirtyOp
}

func newAdjacency(owner *Vertex, dir keycodec.Direction) *Adjacency {
	return &Adjacency{
		owner: owner,
		dir:   dir,
		sets:  make(map[keycodec.EdgeEncoding]*edgeSet),
		dirty: make(map[dirtyKey]dirtyOp),
	}
}

func (a *Adjacency) setFor(encoding keycodec.EdgeEncoding) *edgeSet {
	s, ok := a.sets[encoding]
	if !ok {
		s = newEdgeSet()
		a.sets[encoding] = s
	}
	return s
}

func peerEncodingOf(a *Adjacency, e *Edge) keycodec.VertexEncoding {
	if a.dir == keycodec.Out {
		return e.ToEncoding
	}
	return e.FromEncoding
}

/*
Edge returns the edge of the given encoding to/from the given peer, if
one exists.
*/
func (a *Adjacency) Edge(encoding keycodec.EdgeEncoding, peer ID) (*Edge, bool) {
	s, ok := a.sets[encoding]
	if !ok {
		return nil, false
	}
	return s.get(peer)
}

/*
Iterator returns a forwardable sorted iterator over the peers of the
given encoding - this backs C4's from()/to() and, via Edge(), also
fromAndOverridden()/toAndOverridden().
*/
func (a *Adjacency) Iterator(encoding keycodec.EdgeEncoding) *PeerIterator {
	s, ok := a.sets[encoding]
	if !ok {
		return emptyPeerIterator()
	}
	return s.iterator()
}

/*
Overridden returns the unordered sequence of override targets among
the edges of the given encoding, with absent (NoID) entries filtered
out.
*/
func (a *Adjacency) Overridden(encoding keycodec.EdgeEncoding) []ID {
	s, ok := a.sets[encoding]
	if !ok {
		return nil
	}
	out := make([]ID, 0, len(s.peers))
	for _, peer := range s.peers {
		if e := s.byPeer[peer]; e.Overridden != NoID {
			out = append(out, e.Overridden)
		}
	}
	return out
}

/*
put inserts or updates one side of an edge and marks it dirty for the
next commit. Idempotent if the edge is unchanged.
*/
func (a *Adjacency) put(encoding keycodec.EdgeEncoding, peer ID, e *Edge) {
	a.setFor(encoding).put(e, peer)
	a.dirty[dirtyKey{encoding, peer}] = dirtyOp{peerEncoding: peerEncodingOf(a, e)}
}

/*
cache inserts one side of an edge loaded from storage without
scheduling a write. A buffered write for the same slot always wins
(Open Question decision, DESIGN.md).
*/
func (a *Adjacency) cache(encoding keycodec.EdgeEncoding, peer ID, e *Edge) {
	if _, isDirty := a.dirty[dirtyKey{encoding, peer}]; isDirty {
		return
	}
	a.setFor(encoding).put(e, peer)
}

/*
remove deletes one side of an edge and marks it dirty for the next
commit. Returns the removed edge, if one existed.
*/
func (a *Adjacency) remove(encoding keycodec.EdgeEncoding, peer ID) (*Edge, bool) {
	s, ok := a.sets[encoding]
	if !ok {
		return nil, false
	}
	e, existed := s.remove(peer)
	if existed {
		a.dirty[dirtyKey{encoding, peer}] = dirtyOp{peerEncoding: peerEncodingOf(a, e), deleted: true}
	}
	return e, existed
}

/*
deleteEncoding removes every edge of the given encoding from this
adjacency and returns them.
*/
func (a *Adjacency) deleteEncoding(encoding keycodec.EdgeEncoding) []*Edge {
	s, ok := a.sets[encoding]
	if !ok {
		return nil
	}
	peers := append([]ID(nil), s.peers...)
	removed := make([]*Edge, 0, len(peers))
	for _, peer := range peers {
		if e, ok := s.remove(peer); ok {
			removed = append(removed, e)
			a.dirty[dirtyKey{encoding, peer}] = dirtyOp{peerEncoding: peerEncodingOf(a, e), deleted: true}
		}
	}
	return removed
}

/*
deleteAll removes every edge incident to this side of the vertex,
across every encoding, and returns them.
*/
func (a *Adjacency) deleteAll() []*Edge {
	var all []*Edge
	for encoding := range a.sets {
		all = append(all, a.deleteEncoding(encoding)...)
	}
	return all
}

/*
commit flushes every buffered write of this adjacency to the store.
*/
func (a *Adjacency) commit(store kvstore.Store) error {
	for dk, op := range a.dirty {
		key := keycodec.EncodeEdgeKey(a.owner.Encoding(), uint64(a.owner.id), a.dir, dk.encoding, op.peerEncoding, uint64(dk.peer))

		if op.deleted {
			if err := store.Delete(key); err != nil {
				return &SchemaError{Detail: err.Error()}
			}
			continue
		}

		s := a.sets[dk.encoding]
		e, ok := s.get(dk.peer)
		if !ok {
			continue
		}
		if err := store.Put(key, encodeEdgeValue(e)); err != nil {
			return &SchemaError{Detail: err.Error()}
		}
	}

	a.dirty = make(map[dirtyKey]dirtyOp)
	return nil
}
