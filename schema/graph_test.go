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
	"testing"

	"github.com/vitaly-z/typedb/keycodec"
	"github.com/vitaly-z/typedb/kvstore"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := Begin(kvstore.NewMemoryStore(), NewIDAllocator(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

type alwaysHasInstances struct{}

func (alwaysHasInstances) HasInstances(ID) (bool, error) { return true, nil }

func asViolations(t *testing.T, err error) Violations {
	t.Helper()
	violations, ok := err.(Violations)
	if !ok {
		t.Error("expected a Violations error, got", err)
		return nil
	}
	return violations
}

// Boundary scenario 1: create-then-rollback.
func TestCreateThenRollback(t *testing.T) {
	backend := kvstore.NewMemoryBackend()
	ids := NewIDAllocator()

	tx1, err := Begin(backend.Begin(), ids, nil)
	if err != nil {
		t.Error(err)
		return
	}
	if _, err := tx1.CreateType(keycodec.EntityType, "person", ""); err != nil {
		t.Error(err)
		return
	}
	if err := tx1.Rollback(); err != nil {
		t.Error(err)
		return
	}

	tx2, err := Begin(backend.Begin(), ids, nil)
	if err != nil {
		t.Error(err)
		return
	}
	v, err := tx2.GetType("person", "")
	if err != nil {
		t.Error(err)
		return
	}
	if v != nil {
		t.Error("expected person not to exist after rollback")
		return
	}
}

// Boundary scenario 2: relates with override.
func TestRelatesWithOverride(t *testing.T) {
	g := newTestGraph(t)

	marriage, err := g.CreateType(keycodec.RelationType, "marriage", "")
	if err != nil {
		t.Error(err)
		return
	}
	if _, err := g.SetRelates(marriage, "spouse", ""); err != nil {
		t.Error(err)
		return
	}

	heteroMarriage, err := g.CreateType(keycodec.RelationType, "hetero-marriage", "")
	if err != nil {
		t.Error(err)
		return
	}
	if err := g.SetSupertype(heteroMarriage, marriage); err != nil {
		t.Error(err)
		return
	}

	husband, err := g.SetRelates(heteroMarriage, "husband", "spouse")
	if err != nil {
		t.Error(err)
		return
	}

	roles, err := g.RelatedRoleTypes(heteroMarriage)
	if err != nil {
		t.Error(err)
		return
	}
	if len(roles) != 1 || roles[0].Label() != "husband" {
		t.Error("expected only husband (spouse overridden), got", roles)
		return
	}

	spouse, err := g.findInheritedRole(heteroMarriage, "spouse")
	if err != nil || spouse == nil {
		t.Error("expected to resolve the inherited spouse role:", err)
		return
	}

	e, ok := heteroMarriage.Out.Edge(keycodec.Relates, husband.id)
	if !ok {
		t.Error("expected a RELATES edge from hetero-marriage to husband")
		return
	}
	if e.Overridden != spouse.id {
		t.Error("expected husband's edge to override spouse")
		return
	}
}

// Boundary scenario 3: cycle rejection.
func TestCycleRejected(t *testing.T) {
	g := newTestGraph(t)

	a, err := g.CreateType(keycodec.EntityType, "A", "")
	if err != nil {
		t.Error(err)
		return
	}
	b, err := g.CreateType(keycodec.EntityType, "B", "")
	if err != nil {
		t.Error(err)
		return
	}

	if err := g.SetSupertype(a, b); err != nil {
		t.Error(err)
		return
	}

	err = g.SetSupertype(b, a)
	violations := asViolations(t, err)
	if violations == nil {
		return
	}
	if len(violations) != 1 || violations[0].Rule != R1 {
		t.Error("expected a single R1 violation, got", violations)
		return
	}

	supers, err := g.Supertypes(b)
	if err != nil {
		t.Error(err)
		return
	}
	if len(supers) != 1 || supers[0].ID() != g.roots[keycodec.EntityType].ID() {
		t.Error("expected the rejected mutation to leave b's supertype unchanged, got", supers)
		return
	}
}

// Boundary scenario 4: abstract with instances.
func TestAbstractWithInstancesRejected(t *testing.T) {
	g, err := Begin(kvstore.NewMemoryStore(), NewIDAllocator(), alwaysHasInstances{})
	if err != nil {
		t.Error(err)
		return
	}

	person, err := g.CreateType(keycodec.EntityType, "person", "")
	if err != nil {
		t.Error(err)
		return
	}

	err = g.SetAbstract(person, true)
	violations := asViolations(t, err)
	if violations == nil {
		return
	}
	if len(violations) != 1 || violations[0].Rule != R4 {
		t.Error("expected a single R4 violation, got", violations)
		return
	}
}

// Boundary scenario 5: commit validation failure.
func TestCommitValidationFailsWithoutDeclaredRole(t *testing.T) {
	g := newTestGraph(t)

	if _, err := g.CreateType(keycodec.RelationType, "empty-relation", ""); err != nil {
		t.Error(err)
		return
	}

	err := g.Commit()
	violations := asViolations(t, err)
	if violations == nil {
		return
	}

	found := false
	for _, v := range violations {
		if v.Rule == R8 {
			found = true
		}
	}
	if !found {
		t.Error("expected an R8 violation, got", violations)
		return
	}

	if err := g.Rollback(); err != nil {
		t.Error("expected the transaction to remain rollback-able after a failed commit:", err)
		return
	}
}

func TestMirrorSymmetryAfterSetPlaysAndUnset(t *testing.T) {
	g := newTestGraph(t)

	person, err := g.CreateType(keycodec.EntityType, "person", "")
	if err != nil {
		t.Error(err)
		return
	}
	marriage, err := g.CreateType(keycodec.RelationType, "marriage", "")
	if err != nil {
		t.Error(err)
		return
	}
	spouse, err := g.SetRelates(marriage, "spouse", "")
	if err != nil {
		t.Error(err)
		return
	}

	if err := g.SetPlays(person, spouse); err != nil {
		t.Error(err)
		return
	}
	if _, ok := person.Out.Edge(keycodec.Plays, spouse.id); !ok {
		t.Error("expected person.Out to hold the PLAYS edge")
		return
	}
	if _, ok := spouse.In.Edge(keycodec.Plays, person.id); !ok {
		t.Error("expected spouse.In to hold the mirror PLAYS edge")
		return
	}

	if err := g.UnsetPlays(person, spouse); err != nil {
		t.Error(err)
		return
	}
	if _, ok := person.Out.Edge(keycodec.Plays, spouse.id); ok {
		t.Error("expected the PLAYS edge removed from person.Out")
		return
	}
	if _, ok := spouse.In.Edge(keycodec.Plays, person.id); ok {
		t.Error("expected the mirror PLAYS edge removed from spouse.In")
		return
	}
}

func TestSetLabelCascadesDeclaredRoleScope(t *testing.T) {
	g := newTestGraph(t)

	marriage, err := g.CreateType(keycodec.RelationType, "marriage", "")
	if err != nil {
		t.Error(err)
		return
	}
	spouse, err := g.SetRelates(marriage, "spouse", "")
	if err != nil {
		t.Error(err)
		return
	}

	if err := g.SetLabel(marriage, "union"); err != nil {
		t.Error(err)
		return
	}

	if spouse.Scope() != "union" {
		t.Error("expected the declared role's scope to follow the relation's rename, got", spouse.Scope())
		return
	}

	reloaded, err := g.GetType("spouse", "union")
	if err != nil {
		t.Error(err)
		return
	}
	if reloaded == nil || reloaded.ID() != spouse.ID() {
		t.Error("expected the label index to be updated for the role's new scope")
		return
	}
}

func TestCommitPersistsAcrossTransactions(t *testing.T) {
	backend := kvstore.NewMemoryBackend()
	ids := NewIDAllocator()

	g1, err := Begin(backend.Begin(), ids, nil)
	if err != nil {
		t.Error(err)
		return
	}

	person, err := g1.CreateType(keycodec.EntityType, "person", "")
	if err != nil {
		t.Error(err)
		return
	}
	if err := g1.SetAbstract(person, true); err != nil {
		t.Error(err)
		return
	}
	if err := g1.Commit(); err != nil {
		t.Error(err)
		return
	}

	g2, err := Begin(backend.Begin(), ids, nil)
	if err != nil {
		t.Error(err)
		return
	}

	reloaded, err := g2.GetType("person", "")
	if err != nil {
		t.Error(err)
		return
	}
	if reloaded == nil {
		t.Error("expected person to persist across transactions")
		return
	}
	if !reloaded.Abstract() {
		t.Error("expected person to have persisted as abstract")
		return
	}
}

func TestDeleteTypeRejectsVertexWithInstances(t *testing.T) {
	g, err := Begin(kvstore.NewMemoryStore(), NewIDAllocator(), alwaysHasInstances{})
	if err != nil {
		t.Error(err)
		return
	}

	person, err := g.CreateType(keycodec.EntityType, "person", "")
	if err != nil {
		t.Error(err)
		return
	}

	if err := g.DeleteType(person); err == nil {
		t.Error("expected deleteType to reject a type with existing instances")
		return
	}
}

func TestDeleteTypeRemovesEveryMirroredEdge(t *testing.T) {
	g := newTestGraph(t)

	person, err := g.CreateType(keycodec.EntityType, "person", "")
	if err != nil {
		t.Error(err)
		return
	}
	marriage, err := g.CreateType(keycodec.RelationType, "marriage", "")
	if err != nil {
		t.Error(err)
		return
	}
	spouse, err := g.SetRelates(marriage, "spouse", "")
	if err != nil {
		t.Error(err)
		return
	}
	if err := g.SetPlays(person, spouse); err != nil {
		t.Error(err)
		return
	}

	if err := g.DeleteType(person); err != nil {
		t.Error(err)
		return
	}

	if _, ok := spouse.In.Edge(keycodec.Plays, person.id); ok {
		t.Error("expected deleteType to remove the mirrored PLAYS edge from spouse.In")
		return
	}
}

func TestRootMutationRejected(t *testing.T) {
	g := newTestGraph(t)

	root := g.roots[keycodec.EntityType]
	err := g.SetAbstract(root, true)
	violations := asViolations(t, err)
	if violations == nil {
		return
	}
	if len(violations) != 1 || violations[0].Rule != R10 {
		t.Error("expected a single R10 violation, got", violations)
		return
	}
}

func TestCreateTypeRejectsEmptyOrNonAlphanumericLabel(t *testing.T) {
	g := newTestGraph(t)

	if _, err := g.CreateType(keycodec.EntityType, "", ""); err == nil {
		t.Error("expected an empty label to be rejected")
		return
	}
	if _, err := g.CreateType(keycodec.EntityType, "not valid!", ""); err == nil {
		t.Error("expected a non-alphanumeric label to be rejected")
		return
	}
	if _, err := g.CreateType(keycodec.EntityType, "valid_label", ""); err != nil {
		t.Error("expected a well-formed label to be accepted:", err)
		return
	}
}

func TestSetLabelRejectsNonAlphanumericLabel(t *testing.T) {
	g := newTestGraph(t)

	person, err := g.CreateType(keycodec.EntityType, "person", "")
	if err != nil {
		t.Error(err)
		return
	}
	if err := g.SetLabel(person, "not valid!"); err == nil {
		t.Error("expected a non-alphanumeric label to be rejected")
		return
	}
}

func TestSetPlaysRejectsIllegalEncoding(t *testing.T) {
	g := newTestGraph(t)

	notAPlayer, err := g.CreateType(keycodec.AttributeType, "age", "")
	if err != nil {
		t.Error(err)
		return
	}
	notARole, err := g.CreateType(keycodec.AttributeType, "weight", "")
	if err != nil {
		t.Error(err)
		return
	}

	if err := g.SetPlays(notAPlayer, notARole); err == nil {
		t.Error("expected setPlays between two attribute types to be rejected")
		return
	}
}

func TestSetSupertypeRejectsConflictingOwns(t *testing.T) {
	g := newTestGraph(t)

	animal, err := g.CreateType(keycodec.EntityType, "animal", "")
	if err != nil {
		t.Error(err)
		return
	}
	name, err := g.CreateType(keycodec.AttributeType, "name", "")
	if err != nil {
		t.Error(err)
		return
	}
	if err := g.SetOwns(animal, name, nil, Annotations(0).With(AnnotationKey)); err != nil {
		t.Error(err)
		return
	}

	dog, err := g.CreateType(keycodec.EntityType, "dog", "")
	if err != nil {
		t.Error(err)
		return
	}
	if err := g.SetOwns(dog, name, nil, 0); err != nil {
		t.Error(err)
		return
	}

	err = g.SetSupertype(dog, animal)
	violations := asViolations(t, err)
	if violations == nil {
		return
	}
	found := false
	for _, v := range violations {
		if v.Rule == R2 {
			found = true
		}
	}
	if !found {
		t.Error("expected an R2 violation for the conflicting owns, got", violations)
		return
	}
}

func TestSetSupertypeRejectsConflictingPlays(t *testing.T) {
	g := newTestGraph(t)

	animal, err := g.CreateType(keycodec.EntityType, "animal", "")
	if err != nil {
		t.Error(err)
		return
	}
	ownership, err := g.CreateType(keycodec.RelationType, "ownership", "")
	if err != nil {
		t.Error(err)
		return
	}
	pet, err := g.SetRelates(ownership, "pet", "")
	if err != nil {
		t.Error(err)
		return
	}

	if err := g.SetPlays(animal, pet); err != nil {
		t.Error(err)
		return
	}

	dog, err := g.CreateType(keycodec.EntityType, "dog", "")
	if err != nil {
		t.Error(err)
		return
	}
	if err := g.SetPlays(dog, pet); err != nil {
		t.Error(err)
		return
	}

	err = g.SetSupertype(dog, animal)
	violations := asViolations(t, err)
	if violations == nil {
		return
	}
	found := false
	for _, v := range violations {
		if v.Rule == R2 {
			found = true
		}
	}
	if !found {
		t.Error("expected an R2 violation for the conflicting plays, got", violations)
		return
	}
}
