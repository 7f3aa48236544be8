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
	"fmt"

	"github.com/vitaly-z/typedb/keycodec"
)

/*
validator implements the rule catalogue (R1-R10) of spec.md §4.6: a
set of functions over a Graph's buffered state that produce violations
rather than raising an error directly, so a caller can choose to reject
a mutation at its call site or accumulate violations over the modified
relation types at commit.
*/
type validator struct {
	g *Graph
}

/*
checkRootMutation is R10: the vertex targeted by a mutation is one of
the five bootstrapped roots.
*/
func (r *validator) checkRootMutation(v *Vertex) Violations {
	if v.IsRoot() {
		return Violations{{Rule: R10, Message: fmt.Sprintf("%s is a root type and cannot be mutated", v.Label())}}
	}
	return nil
}

func (r *validator) declaredRoleLabels(relation *Vertex) (map[string]bool, error) {
	labels := make(map[string]bool)
	it := relation.Out.Iterator(keycodec.Relates)
	for it.Next() {
		peer := it.Peer()
		e, ok := relation.Out.Edge(keycodec.Relates, peer)
		if !ok {
			continue
		}
		role, err := r.g.vertex(peer, e.ToEncoding)
		if err != nil {
			return nil, err
		}
		labels[role.Label()] = true
	}
	return labels, nil
}

/*
checkSetSupertype is R1 (cycle detection) and R2 (sub's own declared
role/owns/plays conflicting with one super's chain would make it
inherit), grounded on RelationTypeImpl.setSupertype's three
SubtypeValidation passes (original_source/.../RelationTypeImpl.java).
*/
func (r *validator) checkSetSupertype(sub, super *Vertex) (Violations, error) {
	var violations Violations

	if sub.id == super.id {
		violations = append(violations, Violation{Rule: R1, Message: fmt.Sprintf("%s cannot be its own supertype", sub.Label())})
	} else {
		superChain, err := r.g.supertypeIDs(super)
		if err != nil {
			return nil, err
		}
		for _, id := range superChain {
			if id == sub.id {
				violations = append(violations, Violation{Rule: R1, Message: fmt.Sprintf("setSupertype(%s, %s) would form a cycle", sub.Label(), super.Label())})
				break
			}
		}
	}

	if sub.encoding == keycodec.RelationType {
		subLabels, err := r.declaredRoleLabels(sub)
		if err != nil {
			return nil, err
		}
		superRoles, err := r.g.RelatedRoleTypes(super)
		if err != nil {
			return nil, err
		}
		for _, role := range superRoles {
			if subLabels[role.Label()] {
				violations = append(violations, Violation{Rule: R2, Message: fmt.Sprintf("%s already declares a role named %q inherited from %s", sub.Label(), role.Label(), super.Label())})
			}
		}
	}

	ownsConflicts, err := r.checkSetSupertypeOwns(sub, super)
	if err != nil {
		return nil, err
	}
	violations = append(violations, ownsConflicts...)

	playsConflicts, err := r.checkSetSupertypePlays(sub, super)
	if err != nil {
		return nil, err
	}
	violations = append(violations, playsConflicts...)

	return violations, nil
}

/*
superChainIncluding returns super and every vertex in its own
supertype chain, for collecting what a new subtype would inherit.
*/
func (r *validator) superChainIncluding(v *Vertex) ([]*Vertex, error) {
	ids, err := r.g.supertypeIDs(v)
	if err != nil {
		return nil, err
	}
	chain := []*Vertex{v}
	for _, id := range ids {
		t, err := r.g.vertex(id, v.encoding)
		if err != nil {
			return nil, err
		}
		chain = append(chain, t)
	}
	return chain, nil
}

func (r *validator) inheritedOwns(v *Vertex) (map[ID]Annotations, error) {
	chain, err := r.superChainIncluding(v)
	if err != nil {
		return nil, err
	}
	owns := make(map[ID]Annotations)
	for _, t := range chain {
		for _, enc := range []keycodec.EdgeEncoding{keycodec.Owns, keycodec.OwnsKey} {
			it := t.Out.Iterator(enc)
			for it.Next() {
				peer := it.Peer()
				if e, ok := t.Out.Edge(enc, peer); ok {
					if _, exists := owns[peer]; !exists {
						owns[peer] = e.Annotations
					}
				}
			}
		}
	}
	return owns, nil
}

func (r *validator) inheritedPlays(v *Vertex) (map[ID]bool, error) {
	chain, err := r.superChainIncluding(v)
	if err != nil {
		return nil, err
	}
	plays := make(map[ID]bool)
	for _, t := range chain {
		it := t.Out.Iterator(keycodec.Plays)
		for it.Next() {
			plays[it.Peer()] = true
		}
	}
	return plays, nil
}

/*
checkSetSupertypeOwns is the owns half of R2: an attribute sub already
owns directly, with annotations that disagree with what it would
inherit from super's chain, conflicts.
*/
func (r *validator) checkSetSupertypeOwns(sub, super *Vertex) (Violations, error) {
	var violations Violations

	superOwns, err := r.inheritedOwns(super)
	if err != nil {
		return nil, err
	}

	for _, enc := range []keycodec.EdgeEncoding{keycodec.Owns, keycodec.OwnsKey} {
		it := sub.Out.Iterator(enc)
		for it.Next() {
			peer := it.Peer()
			e, ok := sub.Out.Edge(enc, peer)
			if !ok {
				continue
			}
			if ann, exists := superOwns[peer]; exists && ann != e.Annotations {
				attr, err := r.g.vertex(peer, e.ToEncoding)
				if err != nil {
					return nil, err
				}
				violations = append(violations, Violation{Rule: R2, Message: fmt.Sprintf("%s's owns of %s conflicts with the one %s would inherit from %s", sub.Label(), attr.Label(), sub.Label(), super.Label())})
			}
		}
	}

	return violations, nil
}

/*
checkSetSupertypePlays is the plays half of R2: sub already plays a
role directly that super's chain would also make it inherit.
*/
func (r *validator) checkSetSupertypePlays(sub, super *Vertex) (Violations, error) {
	var violations Violations

	superPlays, err := r.inheritedPlays(super)
	if err != nil {
		return nil, err
	}

	it := sub.Out.Iterator(keycodec.Plays)
	for it.Next() {
		peer := it.Peer()
		if !superPlays[peer] {
			continue
		}
		e, ok := sub.Out.Edge(keycodec.Plays, peer)
		if !ok {
			continue
		}
		role, err := r.g.vertex(peer, e.ToEncoding)
		if err != nil {
			return nil, err
		}
		violations = append(violations, Violation{Rule: R2, Message: fmt.Sprintf("%s already plays %s, which it would also inherit from %s", sub.Label(), role.Label(), super.Label())})
	}

	return violations, nil
}

/*
checkSetAbstract is R3 (a role cannot be made concrete while the
relation that declares it is abstract) and R4 (the vertex has
instances).
*/
func (r *validator) checkSetAbstract(v *Vertex, abstract bool) (Violations, error) {
	var violations Violations

	if !abstract && v.encoding == keycodec.RoleType {
		declarer, err := r.g.roleDeclarer(v)
		if err != nil {
			return nil, err
		}
		if declarer != nil && declarer.Abstract() {
			violations = append(violations, Violation{Rule: R3, Message: fmt.Sprintf("role %s cannot be concrete while %s is abstract", v.Label(), declarer.Label())})
		}
	}

	if abstract {
		has, err := r.g.instances.HasInstances(v.id)
		if err != nil {
			return nil, err
		}
		if has {
			violations = append(violations, Violation{Rule: R4, Message: fmt.Sprintf("%s has existing instances", v.Label())})
		}
	}

	return violations, nil
}

/*
checkSetRelates is R5: an explicit override target must be a role
relation inherits from its supertype (the root role is always legal).
*/
func (r *validator) checkSetRelates(relation, role, overriddenRole *Vertex) (Violations, error) {
	var violations Violations

	rootRole := r.g.roots[keycodec.RoleType]
	if overriddenRole == nil || overriddenRole.id == rootRole.id {
		return violations, nil
	}

	superIDs, err := r.g.supertypeIDs(relation)
	if err != nil {
		return nil, err
	}

	inheritable := false
	if len(superIDs) > 0 {
		super, err := r.g.vertex(superIDs[0], relation.encoding)
		if err != nil {
			return nil, err
		}
		inherited, err := r.g.relatedRoleIDs(super)
		if err != nil {
			return nil, err
		}
		for _, id := range inherited {
			if id == overriddenRole.id {
				inheritable = true
				break
			}
		}
	}

	if !inheritable {
		violations = append(violations, Violation{Rule: R5, Message: fmt.Sprintf("%s is not an inherited role of %s", overriddenRole.Label(), relation.Label())})
	}

	return violations, nil
}

/*
checkUnsetRelates is R6: some subtype inherits and overrides the role
being unset.
*/
func (r *validator) checkUnsetRelates(relation, role *Vertex) (Violations, error) {
	var violations Violations

	subIDs, err := r.g.subtypeIDs(relation)
	if err != nil {
		return nil, err
	}

	for _, id := range subIDs {
		sub, err := r.g.vertex(id, relation.encoding)
		if err != nil {
			return nil, err
		}
		it := sub.Out.Iterator(keycodec.Relates)
		for it.Next() {
			if e := it.Edge(); e != nil && e.Overridden == role.id {
				violations = append(violations, Violation{Rule: R6, Message: fmt.Sprintf("%s overrides %s via an inherited relates", sub.Label(), role.Label())})
			}
		}
	}

	return violations, nil
}

/*
checkSetOwns is R7: the new annotations conflict with an inherited
OWNS/OWNS_KEY edge to the same attribute.
*/
func (r *validator) checkSetOwns(owner, attr, overriddenAttr *Vertex, annotations Annotations) (Violations, error) {
	var violations Violations

	superIDs, err := r.g.supertypeIDs(owner)
	if err != nil {
		return nil, err
	}

	for _, id := range superIDs {
		super, err := r.g.vertex(id, owner.encoding)
		if err != nil {
			return nil, err
		}
		for _, enc := range []keycodec.EdgeEncoding{keycodec.Owns, keycodec.OwnsKey} {
			if e, ok := super.Out.Edge(enc, attr.id); ok && e.Annotations != annotations {
				violations = append(violations, Violation{Rule: R7, Message: fmt.Sprintf("%s's annotations for %s conflict with the owns inherited from %s", owner.Label(), attr.Label(), super.Label())})
			}
		}
	}

	return violations, nil
}

/*
checkCommitRelation is R8 (a concrete relation type declares no role
beyond the root role, transitively) and R9 (a concrete relation type
has an abstract declared role).
*/
func (r *validator) checkCommitRelation(v *Vertex) Violations {
	var violations Violations
	if v.Abstract() {
		return violations
	}

	roleIDs, err := r.g.relatedRoleIDs(v)
	if err != nil {
		return Violations{{Rule: R8, Message: err.Error()}}
	}

	rootRole := r.g.roots[keycodec.RoleType]
	nonRoot := 0
	for _, id := range roleIDs {
		if id != rootRole.id {
			nonRoot++
		}
	}
	if nonRoot == 0 {
		violations = append(violations, Violation{Rule: R8, Message: fmt.Sprintf("%s declares no role beyond the root role", v.Label())})
	}

	it := v.Out.Iterator(keycodec.Relates)
	for it.Next() {
		peer := it.Peer()
		e, ok := v.Out.Edge(keycodec.Relates, peer)
		if !ok {
			continue
		}
		role, err := r.g.vertex(peer, e.ToEncoding)
		if err != nil {
			continue
		}
		if role.Abstract() {
			violations = append(violations, Violation{Rule: R9, Message: fmt.Sprintf("%s has abstract declared role %s", v.Label(), role.Label())})
		}
	}

	return violations
}
