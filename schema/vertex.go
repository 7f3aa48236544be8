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

import "github.com/vitaly-z/typedb/keycodec"

/*
Vertex is the in-memory representation of a type: an entity type, a
relation type, an attribute type, a role type, or the thing root.
Vertices are intern-cached by id inside their owning Graph - requesting
the same id twice within one transaction returns the same instance
(spec.md §4.3).

A Vertex's scalar properties (label, scope, abstract, value-type) are
loaded lazily from the backing store on first access unless the vertex
was created in the current transaction, in which case they are already
populated and propertiesLoaded is true from the start.
*/
type Vertex struct {
	id       ID
	encoding keycodec.VertexEncoding
	label    string
	scope    string // only meaningful for role-type vertices
	abstract bool
	vtype    ValueType // only meaningful for attribute-type vertices

	propertiesLoaded bool
	isRoot           bool
	buffered         bool // created in this transaction, not yet flushed
	modified         bool // a property setter has run since the last load/flush
	tombstoned       bool // deleteType has run on this vertex

	Out *Adjacency
	In  *Adjacency
}

func newVertex(id ID, encoding keycodec.VertexEncoding, label, scope string) *Vertex {
	v := &Vertex{
		id:               id,
		encoding:         encoding,
		label:            label,
		scope:            scope,
		propertiesLoaded: true,
	}
	v.Out = newAdjacency(v, keycodec.Out)
	v.In = newAdjacency(v, keycodec.In)
	return v
}

/*
newLoadedVertex creates the shell of a vertex being lazily loaded from
storage: its scalar properties are not yet populated, and its
adjacencies are filled in by the caller via cache as edge records are
scanned.
*/
func newLoadedVertex(id ID, encoding keycodec.VertexEncoding) *Vertex {
	v := &Vertex{id: id, encoding: encoding}
	v.Out = newAdjacency(v, keycodec.Out)
	v.In = newAdjacency(v, keycodec.In)
	return v
}

/*
ID returns this vertex's internal identifier.
*/
func (v *Vertex) ID() ID { return v.id }

/*
Encoding returns the kind of this vertex.
*/
func (v *Vertex) Encoding() keycodec.VertexEncoding { return v.encoding }

/*
Label returns this vertex's label.
*/
func (v *Vertex) Label() string { return v.label }

/*
Scope returns this vertex's scope. Only role-type vertices have one;
for everything else Scope returns the empty string.
*/
func (v *Vertex) Scope() string { return v.scope }

/*
Abstract reports whether this vertex is abstract.
*/
func (v *Vertex) Abstract() bool { return v.abstract }

/*
ValueType returns this vertex's value-type. Only meaningful for
attribute-type vertices.
*/
func (v *Vertex) ValueType() ValueType { return v.vtype }

/*
IsRoot reports whether this is one of the five bootstrapped root
vertices, which may never be mutated or deleted (rule R10).
*/
func (v *Vertex) IsRoot() bool { return v.isRoot }

/*
Tombstoned reports whether deleteType has removed this vertex in the
current transaction.
*/
func (v *Vertex) Tombstoned() bool { return v.tombstoned }

/*
indexKey returns the (encoding, label, scope) triple the label index is
keyed on. Invariant (spec.md §3): this triple is globally unique.
*/
func (v *Vertex) indexKey() indexKey {
	return indexKey{encoding: v.encoding, label: v.label, scope: v.scope}
}

func (v *Vertex) setLabel(label string) {
	v.label = label
	v.modified = true
}

func (v *Vertex) setScope(scope string) {
	v.scope = scope
	v.modified = true
}

func (v *Vertex) setAbstract(abstract bool) {
	v.abstract = abstract
	v.modified = true
}

func (v *Vertex) setValueType(vt ValueType) {
	v.vtype = vt
	v.modified = true
}

/*
indexKey is the (encoding, label, scope) identity triple a vertex is
looked up by.
*/
type indexKey struct {
	encoding keycodec.VertexEncoding
	label    string
	scope    string
}
