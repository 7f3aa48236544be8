/*
 * TypeDB Schema Graph
 *
 * Copyright 2024 The TypeDB Schema Graph Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package schema implements the transactional, in-memory schema graph of a
knowledge-graph database: typed vertices (entity/relation/attribute/role
types), typed edges between them (SUB/OWNS/OWNS_KEY/PLAYS/RELATES), a
bidirectional adjacency store per vertex, and a structural validator
that enforces subtype consistency, root immutability and abstractness
rules.

Graph

Graph is both the identity cache of loaded vertices and the transaction
object: it buffers every create, delete, edge change and property write
against a kvstore.Store transaction and only makes them durable on
Commit. A Graph is not safe for concurrent use by more than one
goroutine, mirroring the "single-threaded cooperative" transaction model
of spec.md §5.

Vertex and Adjacency

Vertex is the in-memory representation of a type (component C3).
Adjacency is the per-vertex, per-direction index of typed edges
(component C4), with sorted, forwardable iteration so that transitive
subtype walks never need to materialise an intermediate set.

Validator

validator.go implements the rule catalogue (R1-R10) of spec.md §4.6,
invoked at the mutation call site (declaration validation, including
the subtype-chain checks of setSupertype) and at commit time, where
R8 and R9 run over every buffered-modified non-root relation type.
Commit does not re-run the declaration-time rules across subtype
chains.

Root vertices

Five root vertices - entity, relation, attribute, role:relation and
thing - are bootstrapped once, the first time a Graph is opened against
an empty backing store, and can never be mutated or deleted afterwards.
*/
package schema

import "github.com/vitaly-z/typedb/keycodec"

// Root vertex labels. role:relation's scope is the relation root's own
// label, since a role's scope is always its declaring relation's label.
const (
	RootLabelEntity    = "entity"
	RootLabelRelation  = "relation"
	RootLabelAttribute = "attribute"
	RootLabelRole      = "role"
	RootLabelThing     = "thing"
)

/*
Annotation is a flag attached to an OWNS/OWNS_KEY edge.
*/
type Annotation uint8

const (
	AnnotationKey    Annotation = 1 << 0
	AnnotationUnique Annotation = 1 << 1
)

/*
Annotations is a set of Annotation flags.
*/
type Annotations uint8

/*
Has reports whether the given flag is set.
*/
func (a Annotations) Has(f Annotation) bool {
	return a&Annotations(f) != 0
}

/*
With returns a new Annotations value with the given flag set.
*/
func (a Annotations) With(f Annotation) Annotations {
	return a | Annotations(f)
}

/*
HasAll reports whether every flag set in other is also set in a.
*/
func (a Annotations) HasAll(other Annotations) bool {
	return a&other == other
}

/*
ValueType identifies the scalar type of an attribute-type vertex.
*/
type ValueType uint8

const (
	ValueTypeNone ValueType = iota
	ValueTypeBoolean
	ValueTypeLong
	ValueTypeDouble
	ValueTypeString
	ValueTypeDateTime
)

/*
ID is a type vertex's internal identifier.
*/
type ID uint64

/*
NoID is the absent-id marker, used for e.g. an edge's Overridden slot
when there is no override.
*/
const NoID ID = 0

/*
rootLabels lists the five root vertices with their label, scope and
vertex encoding.
*/
var rootLabels = []struct {
	label    string
	scope    string
	encoding keycodec.VertexEncoding
}{
	{RootLabelEntity, "", keycodec.EntityType},
	{RootLabelRelation, "", keycodec.RelationType},
	{RootLabelAttribute, "", keycodec.AttributeType},
	{RootLabelRole, RootLabelRelation, keycodec.RoleType},
	{RootLabelThing, "", keycodec.ThingRoot},
}
