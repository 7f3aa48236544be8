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
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"devt.de/krotik/common/errorutil"
	"devt.de/krotik/common/stringutil"
	"github.com/google/uuid"

	"github.com/vitaly-z/typedb/keycodec"
	"github.com/vitaly-z/typedb/kvstore"
)

/*
legalOutbound and legalInbound are the Encoding dispatch table of
SPEC_FULL.md §5: which edge encodings may originate from, and
terminate at, a vertex of a given encoding. Consulted by the
declaration-time checks below before an edge is ever linked, so a
mismatched pair (e.g. an attribute-type "playing" a role) is rejected
before it reaches the validator's rule catalogue.
*/
var legalOutbound = map[keycodec.VertexEncoding][]keycodec.EdgeEncoding{
	keycodec.EntityType:    {keycodec.Sub, keycodec.Owns, keycodec.OwnsKey, keycodec.Plays},
	keycodec.RelationType:  {keycodec.Sub, keycodec.Owns, keycodec.OwnsKey, keycodec.Plays, keycodec.Relates},
	keycodec.AttributeType: {keycodec.Sub},
	keycodec.RoleType:      {keycodec.Sub},
	keycodec.ThingRoot:     {},
}

var legalInbound = map[keycodec.VertexEncoding][]keycodec.EdgeEncoding{
	keycodec.EntityType:    {keycodec.Sub},
	keycodec.RelationType:  {keycodec.Sub},
	keycodec.AttributeType: {keycodec.Sub, keycodec.Owns, keycodec.OwnsKey},
	keycodec.RoleType:      {keycodec.Sub, keycodec.Relates, keycodec.Plays},
	keycodec.ThingRoot:     {},
}

func edgeEncodingAllowed(encodings []keycodec.EdgeEncoding, want keycodec.EdgeEncoding) bool {
	for _, e := range encodings {
		if e == want {
			return true
		}
	}
	return false
}

/*
checkEdgeEncoding rejects linking encoding from from.encoding to
to.encoding if the dispatch table does not permit it on either side.
*/
func checkEdgeEncoding(from *Vertex, encoding keycodec.EdgeEncoding, to *Vertex) error {
	if !edgeEncodingAllowed(legalOutbound[from.encoding], encoding) {
		return &SchemaError{Type: ErrInvalidData, Detail: fmt.Sprintf("%s cannot originate from a %s vertex", encoding, from.encoding)}
	}
	if !edgeEncodingAllowed(legalInbound[to.encoding], encoding) {
		return &SchemaError{Type: ErrInvalidData, Detail: fmt.Sprintf("%s cannot terminate at a %s vertex", encoding, to.encoding)}
	}
	return nil
}

/*
checkLabel is the label syntax check: non-empty, and made only of
letters, digits, underscores and hyphens. Grounded on the teacher's
checkItemGeneral (graph/helpers.go).
*/
func checkLabel(label string) error {
	if label == "" {
		return &SchemaError{Type: ErrInvalidData, Detail: "label is missing a value"}
	}
	if !stringutil.IsAlphaNumeric(strings.ReplaceAll(label, "-", "")) {
		return &SchemaError{Type: ErrInvalidData, Detail: fmt.Sprintf("label %q is not alphanumeric - can only contain [a-zA-Z0-9_-]", label)}
	}
	return nil
}

/*
checkScope is the same syntax check as checkLabel, but scope may be
empty (only role-type vertices carry one), grounded on the teacher's
checkPartitionName (graph/helpers.go).
*/
func checkScope(scope string) error {
	if scope == "" {
		return nil
	}
	if !stringutil.IsAlphaNumeric(strings.ReplaceAll(scope, "-", "")) {
		return &SchemaError{Type: ErrInvalidData, Detail: fmt.Sprintf("scope %q is not alphanumeric - can only contain [a-zA-Z0-9_-]", scope)}
	}
	return nil
}

// propertyTags enumerates every scalar property slot a vertex may have
// persisted, used when flushing and when tombstoning.
var propertyTags = []keycodec.PropertyTag{
	keycodec.TagLabel,
	keycodec.TagScope,
	keycodec.TagAbstract,
	keycodec.TagValueType,
}

/*
IDAllocator is the process-wide, atomic id source described in
spec.md §5: ids are never reused, even across an aborted transaction,
so it lives outside any single Graph and is handed to Begin.
*/
type IDAllocator struct {
	next atomic.Uint64
}

/*
NewIDAllocator returns a fresh allocator starting at id 1. 0 is
reserved as NoID.
*/
func NewIDAllocator() *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(1)
	return a
}

func (a *IDAllocator) allocate() ID {
	return ID(a.next.Add(1) - 1)
}

/*
InstanceGraph is the single read operation the instance ("thing")
graph collaborator exposes to the schema graph's validator (spec.md §6).
*/
type InstanceGraph interface {
	HasInstances(typeVertexID ID) (bool, error)
}

/*
NoInstances is an InstanceGraph that reports no instances for any type,
used by tests and by callers with no instance graph wired up yet.
*/
type NoInstances struct{}

/*
HasInstances always returns false.
*/
func (NoInstances) HasInstances(ID) (bool, error) { return false, nil }

type closureCache struct {
	epoch  uint64
	result []ID
}

/*
Graph is both the identity cache of loaded vertices and the
transaction object of the schema graph core (component C5): every
create, delete, edge change and property write is buffered against a
kvstore.Store transaction and only made durable on Commit.
*/
type Graph struct {
	// TxID identifies this transaction for logging/diagnostics, the
	// way kvstore.BadgerStore tags each open store with a uuid.
	TxID string

	store     kvstore.Store
	ids       *IDAllocator
	instances InstanceGraph
	validator *validator

	byID    map[ID]*Vertex
	byIndex map[indexKey]*Vertex
	roots   map[keycodec.VertexEncoding]*Vertex

	modified map[ID]*Vertex
	deleted  map[ID]*Vertex

	epoch             uint64
	supertypesCache   map[ID]closureCache
	subtypesCache     map[ID]closureCache
	relatedRolesCache map[ID]closureCache

	closed bool
}

/*
Begin opens a new schema-graph transaction against store, bootstrapping
the five root vertices the first time it runs against an empty store.
instances may be nil, in which case NoInstances is used.
*/
func Begin(store kvstore.Store, ids *IDAllocator, instances InstanceGraph) (*Graph, error) {
	errorutil.AssertTrue(store != nil, "schema.Begin requires a store")
	errorutil.AssertTrue(ids != nil, "schema.Begin requires an id allocator")

	if instances == nil {
		instances = NoInstances{}
	}

	g := &Graph{
		TxID:              uuid.NewString(),
		store:             store,
		ids:               ids,
		instances:         instances,
		byID:              make(map[ID]*Vertex),
		byIndex:           make(map[indexKey]*Vertex),
		roots:             make(map[keycodec.VertexEncoding]*Vertex),
		modified:          make(map[ID]*Vertex),
		deleted:           make(map[ID]*Vertex),
		supertypesCache:   make(map[ID]closureCache),
		subtypesCache:     make(map[ID]closureCache),
		relatedRolesCache: make(map[ID]closureCache),
	}
	g.validator = &validator{g: g}

	if err := g.bootstrapRoots(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) bootstrapRoots() error {
	for _, r := range rootLabels {
		v, err := g.lookupByIndex(r.encoding, r.label, r.scope)
		if err != nil {
			return err
		}
		if v == nil {
			v = newVertex(g.ids.allocate(), r.encoding, r.label, r.scope)
			v.isRoot = true
			v.buffered = true
			g.cacheVertex(v)
			g.modified[v.id] = v
		} else {
			v.isRoot = true
		}
		g.roots[r.encoding] = v
	}
	return nil
}

func (g *Graph) cacheVertex(v *Vertex) {
	g.byID[v.id] = v
	g.byIndex[v.indexKey()] = v
}

func (g *Graph) markModified(v *Vertex) {
	if v.tombstoned {
		return
	}
	g.modified[v.id] = v
}

func (g *Graph) bumpEpoch() {
	g.epoch++
}

/*
lookupByIndex resolves a vertex by its (encoding, label, scope) identity
triple, consulting the transaction-local cache first and the backing
store second. Returns (nil, nil) if no such vertex exists.
*/
func (g *Graph) lookupByIndex(encoding keycodec.VertexEncoding, label, scope string) (*Vertex, error) {
	key := indexKey{encoding: encoding, label: label, scope: scope}
	if v, ok := g.byIndex[key]; ok {
		return v, nil
	}

	raw, ok, err := g.store.Get(keycodec.EncodeIndexKey(encoding, label, scope))
	if err != nil {
		return nil, &SchemaError{Detail: err.Error()}
	}
	if !ok {
		return nil, nil
	}

	id := ID(binary.BigEndian.Uint64(raw))
	return g.vertex(id, encoding)
}

/*
vertex returns the vertex with the given id, loading it from the store
on first reference and intern-caching it for the rest of the
transaction (spec.md §4.3).
*/
func (g *Graph) vertex(id ID, encoding keycodec.VertexEncoding) (*Vertex, error) {
	if v, ok := g.byID[id]; ok {
		return v, nil
	}

	vkey := keycodec.EncodeVertexKey(encoding, uint64(id))
	_, exists, err := g.store.Get(vkey)
	if err != nil {
		return nil, &SchemaError{Detail: err.Error()}
	}
	if !exists {
		return nil, &SchemaError{Type: ErrNotFound, Detail: fmt.Sprintf("vertex %d", id)}
	}

	v := newLoadedVertex(id, encoding)
	if err := g.loadProperties(v, vkey); err != nil {
		return nil, err
	}
	if err := g.loadAdjacency(v); err != nil {
		return nil, err
	}
	g.cacheVertex(v)
	return v, nil
}

func (g *Graph) loadProperties(v *Vertex, vkey []byte) error {
	for _, tag := range propertyTags {
		raw, ok, err := g.store.Get(keycodec.EncodePropertyKey(vkey, tag))
		if err != nil {
			return &SchemaError{Detail: err.Error()}
		}
		if !ok {
			continue
		}
		switch tag {
		case keycodec.TagLabel:
			v.label = string(raw)
		case keycodec.TagScope:
			v.scope = string(raw)
		case keycodec.TagAbstract:
			v.abstract = len(raw) > 0 && raw[0] != 0
		case keycodec.TagValueType:
			if len(raw) > 0 {
				v.vtype = ValueType(raw[0])
			}
		}
	}
	v.propertiesLoaded = true
	return nil
}

/*
loadAdjacency scans every edge record owned by v - both directions,
since direction immediately follows v's identity in the key - and
caches each into the matching side of v's adjacency.
*/
func (g *Graph) loadAdjacency(v *Vertex) error {
	prefix := keycodec.EdgePrefixFrom(v.encoding, uint64(v.id))
	cur, err := g.store.Scan(prefix)
	if err != nil {
		return &SchemaError{Detail: err.Error()}
	}
	defer cur.Close()

	for cur.Next() {
		kv := cur.Item()
		_, _, dir, edgeEncoding, otherEncoding, otherID, derr := keycodec.DecodeEdgeKey(kv.Key)
		if derr != nil {
			return &SchemaError{Type: ErrInvalidData, Detail: derr.Error()}
		}
		overridden, annotations := decodeEdgeValue(kv.Value)
		peer := ID(otherID)

		var e *Edge
		if dir == keycodec.Out {
			e = &Edge{Encoding: edgeEncoding, From: v.id, FromEncoding: v.encoding, To: peer, ToEncoding: otherEncoding, Overridden: overridden, Annotations: annotations}
			v.Out.cache(edgeEncoding, peer, e)
		} else {
			e = &Edge{Encoding: edgeEncoding, From: peer, FromEncoding: otherEncoding, To: v.id, ToEncoding: v.encoding, Overridden: overridden, Annotations: annotations}
			v.In.cache(edgeEncoding, peer, e)
		}
	}
	return nil
}

func (g *Graph) resolveAll(ids []ID, encoding keycodec.VertexEncoding) ([]*Vertex, error) {
	out := make([]*Vertex, 0, len(ids))
	for _, id := range ids {
		v, err := g.vertex(id, encoding)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (g *Graph) linkEdge(encoding keycodec.EdgeEncoding, from, to *Vertex, overridden ID, annotations Annotations) *Edge {
	e := &Edge{Encoding: encoding, From: from.id, FromEncoding: from.encoding, To: to.id, ToEncoding: to.encoding, Overridden: overridden, Annotations: annotations}
	from.Out.put(encoding, to.id, e)
	to.In.put(encoding, from.id, e)
	g.markModified(from)
	g.markModified(to)
	g.bumpEpoch()
	return e
}

func (g *Graph) unlinkEdge(encoding keycodec.EdgeEncoding, from, to *Vertex) {
	from.Out.remove(encoding, to.id)
	to.In.remove(encoding, from.id)
	g.markModified(from)
	g.markModified(to)
	g.bumpEpoch()
}

func (g *Graph) unlinkSub(sub *Vertex) error {
	it := sub.Out.Iterator(keycodec.Sub)
	var peers []ID
	for it.Next() {
		peers = append(peers, it.Peer())
	}
	for _, peer := range peers {
		e, ok := sub.Out.Edge(keycodec.Sub, peer)
		if !ok {
			continue
		}
		super, err := g.vertex(peer, e.ToEncoding)
		if err != nil {
			return err
		}
		g.unlinkEdge(keycodec.Sub, sub, super)
	}
	return nil
}

func (g *Graph) roleDeclarer(role *Vertex) (*Vertex, error) {
	it := role.In.Iterator(keycodec.Relates)
	if !it.Next() {
		return nil, nil
	}
	peer := it.Peer()
	e, ok := role.In.Edge(keycodec.Relates, peer)
	if !ok {
		return nil, nil
	}
	return g.vertex(peer, e.FromEncoding)
}

// --- transitive closures -------------------------------------------------

/*
supertypeIDs returns the SUB-successor chain of v, nearest ancestor
first, memoised per transaction and invalidated by epoch.
*/
func (g *Graph) supertypeIDs(v *Vertex) ([]ID, error) {
	if c, ok := g.supertypesCache[v.id]; ok && c.epoch == g.epoch {
		return c.result, nil
	}

	seen := map[ID]bool{v.id: true}
	var chain []ID
	cur := v
	for {
		it := cur.Out.Iterator(keycodec.Sub)
		if !it.Next() {
			break
		}
		peer := it.Peer()
		if seen[peer] {
			return nil, &SchemaError{Type: ErrSchemaCycle, Detail: fmt.Sprintf("cycle reached at vertex %d", peer)}
		}
		seen[peer] = true
		chain = append(chain, peer)

		e, ok := cur.Out.Edge(keycodec.Sub, peer)
		if !ok {
			break
		}
		next, err := g.vertex(peer, e.ToEncoding)
		if err != nil {
			return nil, err
		}
		cur = next
	}

	g.supertypesCache[v.id] = closureCache{epoch: g.epoch, result: chain}
	return chain, nil
}

/*
Supertypes returns the transitive closure of v's SUB-successors,
nearest ancestor first.
*/
func (g *Graph) Supertypes(v *Vertex) ([]*Vertex, error) {
	ids, err := g.supertypeIDs(v)
	if err != nil {
		return nil, err
	}
	return g.resolveAll(ids, v.encoding)
}

func (g *Graph) subtypeIDs(v *Vertex) ([]ID, error) {
	if c, ok := g.subtypesCache[v.id]; ok && c.epoch == g.epoch {
		return c.result, nil
	}

	seen := make(map[ID]bool)
	var walkErr error
	var walk func(cur *Vertex)
	walk = func(cur *Vertex) {
		if walkErr != nil {
			return
		}
		it := cur.In.Iterator(keycodec.Sub)
		for it.Next() {
			peer := it.Peer()
			if seen[peer] {
				continue
			}
			seen[peer] = true
			e, ok := cur.In.Edge(keycodec.Sub, peer)
			if !ok {
				continue
			}
			child, err := g.vertex(peer, e.FromEncoding)
			if err != nil {
				walkErr = err
				return
			}
			walk(child)
		}
	}
	walk(v)
	if walkErr != nil {
		return nil, walkErr
	}

	ids := make([]ID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g.subtypesCache[v.id] = closureCache{epoch: g.epoch, result: ids}
	return ids, nil
}

/*
Subtypes returns the transitive closure of v's SUB-predecessors,
ascending by id.
*/
func (g *Graph) Subtypes(v *Vertex) ([]*Vertex, error) {
	ids, err := g.subtypeIDs(v)
	if err != nil {
		return nil, err
	}
	return g.resolveAll(ids, v.encoding)
}

/*
relatedRoleIDs is declaredRoles(relation) union relatedRoleIDs(supertype),
excluding any role that is an override target of a declared role
(spec.md §4.5).
*/
func (g *Graph) relatedRoleIDs(relation *Vertex) ([]ID, error) {
	if c, ok := g.relatedRolesCache[relation.id]; ok && c.epoch == g.epoch {
		return c.result, nil
	}

	declared := make(map[ID]bool)
	overridden := make(map[ID]bool)

	it := relation.Out.Iterator(keycodec.Relates)
	for it.Next() {
		declared[it.Peer()] = true
		if e := it.Edge(); e != nil && e.Overridden != NoID {
			overridden[e.Overridden] = true
		}
	}

	result := make(map[ID]bool, len(declared))
	for id := range declared {
		result[id] = true
	}

	superIDs, err := g.supertypeIDs(relation)
	if err != nil {
		return nil, err
	}
	if len(superIDs) > 0 {
		super, err := g.vertex(superIDs[0], relation.encoding)
		if err != nil {
			return nil, err
		}
		inherited, err := g.relatedRoleIDs(super)
		if err != nil {
			return nil, err
		}
		for _, id := range inherited {
			result[id] = true
		}
	}

	for id := range overridden {
		delete(result, id)
	}

	ids := make([]ID, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g.relatedRolesCache[relation.id] = closureCache{epoch: g.epoch, result: ids}
	return ids, nil
}

/*
RelatedRoleTypes returns the roles a relation type relates to,
transitively, with overridden inherited roles excluded.
*/
func (g *Graph) RelatedRoleTypes(relation *Vertex) ([]*Vertex, error) {
	ids, err := g.relatedRoleIDs(relation)
	if err != nil {
		return nil, err
	}
	return g.resolveAll(ids, keycodec.RoleType)
}

func (g *Graph) findInheritedRole(relation *Vertex, label string) (*Vertex, error) {
	superIDs, err := g.supertypeIDs(relation)
	if err != nil || len(superIDs) == 0 {
		return nil, err
	}
	super, err := g.vertex(superIDs[0], relation.encoding)
	if err != nil {
		return nil, err
	}
	roleIDs, err := g.relatedRoleIDs(super)
	if err != nil {
		return nil, err
	}
	for _, id := range roleIDs {
		role, err := g.vertex(id, keycodec.RoleType)
		if err != nil {
			return nil, err
		}
		if role.Label() == label {
			return role, nil
		}
	}
	return nil, nil
}

// --- mutations ------------------------------------------------------------

/*
CreateType allocates a fresh vertex of the given encoding, defaults its
supertype to the root of that encoding, and buffers its label-index
write (spec.md §4.5).
*/
func (g *Graph) CreateType(encoding keycodec.VertexEncoding, label, scope string) (*Vertex, error) {
	if err := checkLabel(label); err != nil {
		return nil, err
	}
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	existing, err := g.lookupByIndex(encoding, label, scope)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &SchemaError{Type: ErrInvalidData, Detail: fmt.Sprintf("type already exists: %s %q scope %q", encoding, label, scope)}
	}

	v := newVertex(g.ids.allocate(), encoding, label, scope)
	g.cacheVertex(v)
	v.buffered = true
	g.markModified(v)
	g.bumpEpoch()

	if root, ok := g.roots[encoding]; ok && root.id != v.id {
		g.linkEdge(keycodec.Sub, v, root, NoID, 0)
	}

	return v, nil
}

/*
DeleteType removes every edge incident to v and tombstones it, after
checking the instance-graph collaborator reports no instances
(spec.md §4.5).
*/
func (g *Graph) DeleteType(v *Vertex) error {
	if rv := g.validator.checkRootMutation(v); rv.HasViolations() {
		return rv.AsError()
	}

	has, err := g.instances.HasInstances(v.id)
	if err != nil {
		return &SchemaError{Detail: err.Error()}
	}
	if has {
		return &SchemaError{Type: ErrValidation, Detail: fmt.Sprintf("%s has existing instances", v.Label())}
	}

	if err := g.deleteIncidentEdges(v); err != nil {
		return err
	}

	v.tombstoned = true
	delete(g.byIndex, v.indexKey())
	g.deleted[v.id] = v
	g.bumpEpoch()
	return nil
}

/*
deleteIncidentEdges removes every edge incident to v, in both
directions, via Adjacency.deleteAll - then mirrors each removal onto
the peer's own adjacency so the mirror-symmetry invariant of spec.md
§4.4 still holds once v is gone.
*/
func (g *Graph) deleteIncidentEdges(v *Vertex) error {
	for _, removed := range v.Out.deleteAll() {
		peerV, err := g.vertex(removed.To, removed.ToEncoding)
		if err != nil {
			return err
		}
		g.assertMirrorRemoved(peerV.In.remove(removed.Encoding, v.id))
		g.markModified(peerV)
	}
	for _, removed := range v.In.deleteAll() {
		peerV, err := g.vertex(removed.From, removed.FromEncoding)
		if err != nil {
			return err
		}
		g.assertMirrorRemoved(peerV.Out.remove(removed.Encoding, v.id))
		g.markModified(peerV)
	}
	return nil
}

/*
assertMirrorRemoved panics if a peer's own side of an edge pair was
missing when deleteIncidentEdges went to remove it - the mirror-symmetry
invariant of spec.md §4.4 guarantees the two sides never drift apart, so
found being false here means that invariant has already been broken
elsewhere and continuing would silently corrupt the adjacency further.
Mirrors the teacher's use of errorutil.AssertTrue to guard disk-
corruption-class bugs rather than return a recoverable error for them.
*/
func (g *Graph) assertMirrorRemoved(_ *Edge, found bool) {
	errorutil.AssertTrue(found, ErrMirrorAsymmetry.Error())
}

/*
SetSupertype replaces sub's single outbound SUB edge with one to super,
after declaration-time validation (R1, R2).
*/
func (g *Graph) SetSupertype(sub, super *Vertex) error {
	if rv := g.validator.checkRootMutation(sub); rv.HasViolations() {
		return rv.AsError()
	}
	if sub.encoding != super.encoding {
		return &SchemaError{Type: ErrInvalidData, Detail: "setSupertype requires matching encodings"}
	}

	violations, err := g.validator.checkSetSupertype(sub, super)
	if err != nil {
		return err
	}
	if violations.HasViolations() {
		return violations.AsError()
	}

	if err := g.unlinkSub(sub); err != nil {
		return err
	}
	g.linkEdge(keycodec.Sub, sub, super, NoID, 0)
	return nil
}

/*
SetLabel renames v. If v is a relation type, every role it directly
declares via RELATES has its scope rewritten to match - see the
Open Question decision in DESIGN.md for why this is not transitive.
*/
func (g *Graph) SetLabel(v *Vertex, label string) error {
	if rv := g.validator.checkRootMutation(v); rv.HasViolations() {
		return rv.AsError()
	}
	if err := checkLabel(label); err != nil {
		return err
	}

	delete(g.byIndex, v.indexKey())
	v.setLabel(label)
	g.cacheVertex(v)
	g.markModified(v)

	if v.encoding == keycodec.RelationType {
		it := v.Out.Iterator(keycodec.Relates)
		var roles []ID
		for it.Next() {
			roles = append(roles, it.Peer())
		}
		for _, peer := range roles {
			e, ok := v.Out.Edge(keycodec.Relates, peer)
			if !ok {
				continue
			}
			role, err := g.vertex(peer, e.ToEncoding)
			if err != nil {
				return err
			}
			delete(g.byIndex, role.indexKey())
			role.setScope(label)
			g.cacheVertex(role)
			g.markModified(role)
		}
	}

	g.bumpEpoch()
	return nil
}

/*
SetAbstract sets v's abstractness, after declaration-time validation
(R3, R4).
*/
func (g *Graph) SetAbstract(v *Vertex, abstract bool) error {
	if rv := g.validator.checkRootMutation(v); rv.HasViolations() {
		return rv.AsError()
	}

	violations, err := g.validator.checkSetAbstract(v, abstract)
	if err != nil {
		return err
	}
	if violations.HasViolations() {
		return violations.AsError()
	}

	v.setAbstract(abstract)
	g.markModified(v)
	g.bumpEpoch()
	return nil
}

/*
SetValueType sets the value-type of an attribute-type vertex.
*/
func (g *Graph) SetValueType(v *Vertex, vt ValueType) error {
	if rv := g.validator.checkRootMutation(v); rv.HasViolations() {
		return rv.AsError()
	}
	v.setValueType(vt)
	g.markModified(v)
	g.bumpEpoch()
	return nil
}

/*
SetRelates creates (or reuses) a role scoped to relation.Label(), adds
a RELATES edge to it, and records overriddenLabel's inherited role (or
the root role, if overriddenLabel is empty) as the edge's override slot
(spec.md §4.5).
*/
func (g *Graph) SetRelates(relation *Vertex, roleLabel, overriddenLabel string) (*Vertex, error) {
	if rv := g.validator.checkRootMutation(relation); rv.HasViolations() {
		return nil, rv.AsError()
	}
	if err := checkLabel(roleLabel); err != nil {
		return nil, err
	}
	if overriddenLabel != "" {
		if err := checkLabel(overriddenLabel); err != nil {
			return nil, err
		}
	}

	role, err := g.lookupByIndex(keycodec.RoleType, roleLabel, relation.Label())
	if err != nil {
		return nil, err
	}
	if role == nil {
		role, err = g.CreateType(keycodec.RoleType, roleLabel, relation.Label())
		if err != nil {
			return nil, err
		}
	}

	if err := checkEdgeEncoding(relation, keycodec.Relates, role); err != nil {
		return nil, err
	}

	overriddenRole := g.roots[keycodec.RoleType]
	if overriddenLabel != "" {
		found, err := g.findInheritedRole(relation, overriddenLabel)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, Violations{{Rule: R5, Message: fmt.Sprintf("%s does not inherit a role named %q to override", relation.Label(), overriddenLabel)}}.AsError()
		}
		overriddenRole = found
	}

	violations, err := g.validator.checkSetRelates(relation, role, overriddenRole)
	if err != nil {
		return nil, err
	}
	if violations.HasViolations() {
		return nil, violations.AsError()
	}

	g.linkEdge(keycodec.Relates, relation, role, overriddenRole.id, 0)
	return role, nil
}

/*
UnsetRelates removes the RELATES edge from relation to role, after
declaration-time validation (R6).
*/
func (g *Graph) UnsetRelates(relation, role *Vertex) error {
	if rv := g.validator.checkRootMutation(relation); rv.HasViolations() {
		return rv.AsError()
	}

	violations, err := g.validator.checkUnsetRelates(relation, role)
	if err != nil {
		return err
	}
	if violations.HasViolations() {
		return violations.AsError()
	}

	g.unlinkEdge(keycodec.Relates, relation, role)
	return nil
}

/*
SetOwns adds an OWNS (or, with the key annotation, OWNS_KEY) edge from
owner to attr, after declaration-time validation (R7). overriddenAttr
may be nil.
*/
func (g *Graph) SetOwns(owner, attr, overriddenAttr *Vertex, annotations Annotations) error {
	if rv := g.validator.checkRootMutation(owner); rv.HasViolations() {
		return rv.AsError()
	}

	encoding := keycodec.Owns
	if annotations.Has(AnnotationKey) {
		encoding = keycodec.OwnsKey
	}
	if err := checkEdgeEncoding(owner, encoding, attr); err != nil {
		return err
	}

	violations, err := g.validator.checkSetOwns(owner, attr, overriddenAttr, annotations)
	if err != nil {
		return err
	}
	if violations.HasViolations() {
		return violations.AsError()
	}

	overriddenID := NoID
	if overriddenAttr != nil {
		overriddenID = overriddenAttr.id
	}

	g.linkEdge(encoding, owner, attr, overriddenID, annotations)
	return nil
}

/*
SetPlays adds a PLAYS edge from player to role.
*/
func (g *Graph) SetPlays(player, role *Vertex) error {
	if rv := g.validator.checkRootMutation(player); rv.HasViolations() {
		return rv.AsError()
	}
	if err := checkEdgeEncoding(player, keycodec.Plays, role); err != nil {
		return err
	}
	g.linkEdge(keycodec.Plays, player, role, NoID, 0)
	return nil
}

/*
UnsetPlays removes the PLAYS edge from player to role.
*/
func (g *Graph) UnsetPlays(player, role *Vertex) error {
	if rv := g.validator.checkRootMutation(player); rv.HasViolations() {
		return rv.AsError()
	}
	if err := checkEdgeEncoding(player, keycodec.Plays, role); err != nil {
		return err
	}
	g.unlinkEdge(keycodec.Plays, player, role)
	return nil
}

// --- queries (the read-only collaborator surface of spec.md §6) ----------

/*
VertexIterator is a forwardable sorted iterator over a resolved
sequence of vertices, used by GetSupertypes/GetSubtypes/GetRelates/
GetOwns/GetPlays.
*/
type VertexIterator struct {
	vertices []*Vertex
	pos      int
}

func newVertexIterator(vs []*Vertex) *VertexIterator {
	return &VertexIterator{vertices: vs, pos: -1}
}

/*
Next advances the iterator and reports whether a further element is
available.
*/
func (it *VertexIterator) Next() bool {
	it.pos++
	return it.pos < len(it.vertices)
}

/*
Vertex returns the vertex at the iterator's current position.
*/
func (it *VertexIterator) Vertex() *Vertex {
	return it.vertices[it.pos]
}

/*
Seek moves the iterator to the first remaining vertex with id >= id
and reports whether one was found.
*/
func (it *VertexIterator) Seek(id ID) bool {
	start := it.pos
	if start < 0 {
		start = 0
	}
	idx := start + sort.Search(len(it.vertices)-start, func(i int) bool { return it.vertices[start+i].id >= id })
	if idx >= len(it.vertices) {
		it.pos = len(it.vertices)
		return false
	}
	it.pos = idx
	return true
}

/*
GetType looks up a vertex by label and, for role types, scope.
*/
func (g *Graph) GetType(label, scope string) (*Vertex, error) {
	candidates := []keycodec.VertexEncoding{keycodec.EntityType, keycodec.RelationType, keycodec.AttributeType, keycodec.ThingRoot}
	if scope != "" {
		candidates = []keycodec.VertexEncoding{keycodec.RoleType}
	}
	for _, enc := range candidates {
		v, err := g.lookupByIndex(enc, label, scope)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

/*
GetSupertypes returns a forwardable iterator over v's transitive
supertypes, ascending by id.
*/
func (g *Graph) GetSupertypes(v *Vertex) (*VertexIterator, error) {
	vs, err := g.Supertypes(v)
	if err != nil {
		return nil, err
	}
	sorted := append([]*Vertex(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })
	return newVertexIterator(sorted), nil
}

/*
GetSubtypes returns a forwardable iterator over v's transitive
subtypes, ascending by id.
*/
func (g *Graph) GetSubtypes(v *Vertex) (*VertexIterator, error) {
	vs, err := g.Subtypes(v)
	if err != nil {
		return nil, err
	}
	return newVertexIterator(vs), nil
}

/*
GetRelates returns relation's declared roles, or its full
RelatedRoleTypes closure if transitive is set.
*/
func (g *Graph) GetRelates(relation *Vertex, transitive bool) (*VertexIterator, error) {
	if transitive {
		vs, err := g.RelatedRoleTypes(relation)
		if err != nil {
			return nil, err
		}
		return newVertexIterator(vs), nil
	}

	var vs []*Vertex
	it := relation.Out.Iterator(keycodec.Relates)
	for it.Next() {
		peer := it.Peer()
		e, ok := relation.Out.Edge(keycodec.Relates, peer)
		if !ok {
			continue
		}
		role, err := g.vertex(peer, e.ToEncoding)
		if err != nil {
			return nil, err
		}
		vs = append(vs, role)
	}
	return newVertexIterator(vs), nil
}

func (g *Graph) collectOwnedAttributes(owner *Vertex, requireAnnotations Annotations, seen map[ID]*Vertex) error {
	for _, enc := range []keycodec.EdgeEncoding{keycodec.Owns, keycodec.OwnsKey} {
		it := owner.Out.Iterator(enc)
		for it.Next() {
			peer := it.Peer()
			e, ok := owner.Out.Edge(enc, peer)
			if !ok {
				continue
			}
			if requireAnnotations != 0 && !e.Annotations.HasAll(requireAnnotations) {
				continue
			}
			attr, err := g.vertex(peer, e.ToEncoding)
			if err != nil {
				return err
			}
			seen[attr.id] = attr
		}
	}
	return nil
}

/*
GetOwns returns owner's owned attributes, optionally restricted to
those carrying requireAnnotations, optionally including inherited ones.
*/
func (g *Graph) GetOwns(owner *Vertex, transitive bool, requireAnnotations Annotations) (*VertexIterator, error) {
	seen := make(map[ID]*Vertex)
	if err := g.collectOwnedAttributes(owner, requireAnnotations, seen); err != nil {
		return nil, err
	}

	if transitive {
		supers, err := g.Supertypes(owner)
		if err != nil {
			return nil, err
		}
		for _, s := range supers {
			if err := g.collectOwnedAttributes(s, requireAnnotations, seen); err != nil {
				return nil, err
			}
		}
	}

	return newVertexIterator(sortedVertexValues(seen)), nil
}

func (g *Graph) collectPlayedRoles(player *Vertex, seen map[ID]*Vertex) error {
	it := player.Out.Iterator(keycodec.Plays)
	for it.Next() {
		peer := it.Peer()
		e, ok := player.Out.Edge(keycodec.Plays, peer)
		if !ok {
			continue
		}
		role, err := g.vertex(peer, e.ToEncoding)
		if err != nil {
			return err
		}
		seen[role.id] = role
	}
	return nil
}

/*
GetPlays returns the roles player plays, optionally including inherited
ones.
*/
func (g *Graph) GetPlays(player *Vertex, transitive bool) (*VertexIterator, error) {
	seen := make(map[ID]*Vertex)
	if err := g.collectPlayedRoles(player, seen); err != nil {
		return nil, err
	}

	if transitive {
		supers, err := g.Supertypes(player)
		if err != nil {
			return nil, err
		}
		for _, s := range supers {
			if err := g.collectPlayedRoles(s, seen); err != nil {
				return nil, err
			}
		}
	}

	return newVertexIterator(sortedVertexValues(seen)), nil
}

func sortedVertexValues(m map[ID]*Vertex) []*Vertex {
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Vertex, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

// --- commit / rollback -----------------------------------------------------

/*
Commit runs the local commit check (R8, R9 over every buffered-modified
non-root relation type) and, if it passes, flushes buffered state to the store
and commits the underlying transaction (spec.md §4.5).
*/
func (g *Graph) Commit() error {
	if g.closed {
		return &kvstore.StoreError{Type: kvstore.ErrClosed}
	}

	if violations := g.commitCheck(); violations.HasViolations() {
		return violations.AsError()
	}

	if err := g.flush(); err != nil {
		return err
	}

	if err := g.store.Commit(); err != nil {
		return &SchemaError{Detail: err.Error()}
	}

	g.closed = true
	return nil
}

func (g *Graph) commitCheck() Violations {
	var all Violations
	for _, v := range g.modified {
		if v.tombstoned || v.isRoot || v.encoding != keycodec.RelationType {
			continue
		}
		all = append(all, g.validator.checkCommitRelation(v)...)
	}
	return all
}

func (g *Graph) flush() error {
	for _, v := range g.deleted {
		if err := v.Out.commit(g.store); err != nil {
			return err
		}
		if err := v.In.commit(g.store); err != nil {
			return err
		}
		if err := g.store.Delete(keycodec.EncodeIndexKey(v.encoding, v.label, v.scope)); err != nil {
			return &SchemaError{Detail: err.Error()}
		}
		vkey := keycodec.EncodeVertexKey(v.encoding, uint64(v.id))
		if err := g.store.Delete(vkey); err != nil {
			return &SchemaError{Detail: err.Error()}
		}
		for _, tag := range propertyTags {
			if err := g.store.Delete(keycodec.EncodePropertyKey(vkey, tag)); err != nil {
				return &SchemaError{Detail: err.Error()}
			}
		}
	}

	for _, v := range g.modified {
		if v.tombstoned {
			continue
		}
		if err := g.flushVertex(v); err != nil {
			return err
		}
	}

	return nil
}

func (g *Graph) flushVertex(v *Vertex) error {
	vkey := keycodec.EncodeVertexKey(v.encoding, uint64(v.id))
	if err := g.store.Put(vkey, []byte{1}); err != nil {
		return &SchemaError{Detail: err.Error()}
	}

	abstractByte := byte(0)
	if v.abstract {
		abstractByte = 1
	}

	props := map[keycodec.PropertyTag][]byte{
		keycodec.TagLabel:    []byte(v.label),
		keycodec.TagAbstract: {abstractByte},
	}
	if v.scope != "" {
		props[keycodec.TagScope] = []byte(v.scope)
	}
	if v.encoding == keycodec.AttributeType {
		props[keycodec.TagValueType] = []byte{byte(v.vtype)}
	}

	for tag, val := range props {
		if err := g.store.Put(keycodec.EncodePropertyKey(vkey, tag), val); err != nil {
			return &SchemaError{Detail: err.Error()}
		}
	}

	idxVal := make([]byte, 8)
	binary.BigEndian.PutUint64(idxVal, uint64(v.id))
	if err := g.store.Put(keycodec.EncodeIndexKey(v.encoding, v.label, v.scope), idxVal); err != nil {
		return &SchemaError{Detail: err.Error()}
	}

	if err := v.Out.commit(g.store); err != nil {
		return err
	}
	if err := v.In.commit(g.store); err != nil {
		return err
	}

	v.buffered = false
	v.modified = false
	return nil
}

/*
Rollback discards every buffered write and closure cache. Safe to call
on an already-closed transaction.
*/
func (g *Graph) Rollback() error {
	if g.closed {
		return nil
	}
	g.closed = true
	g.modified = make(map[ID]*Vertex)
	g.deleted = make(map[ID]*Vertex)
	g.supertypesCache = make(map[ID]closureCache)
	g.subtypesCache = make(map[ID]closureCache)
	g.relatedRolesCache = make(map[ID]closureCache)
	return g.store.Rollback()
}
