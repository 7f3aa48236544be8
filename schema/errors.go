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
	"errors"
	"fmt"

	"devt.de/krotik/common/errorutil"
)

// Error types. Compared by identity, as with the teacher's GraphError.
var (
	ErrRootTypeMutation = errors.New("root type mutation")
	ErrSchemaCycle      = errors.New("schema cycle")
	ErrMirrorAsymmetry  = errors.New("mirror asymmetry")
	ErrInvalidData      = errors.New("invalid data")
	ErrNotFound         = errors.New("type not found")
	ErrValidation       = errors.New("validation failure")
)

/*
SchemaError is a schema-graph related error.
*/
type SchemaError struct {
	Type   error
	Detail string
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *SchemaError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("SchemaError: %v (%v)", e.Type, e.Detail)
	}
	return fmt.Sprintf("SchemaError: %v", e.Type)
}

/*
RuleID names one entry of the validator's rule catalogue (spec.md §4.6).
*/
type RuleID string

const (
	R1  RuleID = "R1"  // setSupertype would form a cycle in the SUB graph.
	R2  RuleID = "R2"  // subtype declares a role/owns/plays conflicting with the new supertype's inherited one.
	R3  RuleID = "R3"  // setAbstract(false): supertype is abstract and abstractness may not relax here.
	R4  RuleID = "R4"  // setAbstract(true): vertex has instances.
	R5  RuleID = "R5"  // setRelates override target is not an inherited role of the relation.
	R6  RuleID = "R6"  // unsetRelates: some subtype inherits and overrides this role.
	R7  RuleID = "R7"  // setOwns annotations conflict with an inherited OWNS on the same attribute.
	R8  RuleID = "R8"  // commit: concrete relation-type with no declared or inherited non-root role.
	R9  RuleID = "R9"  // commit: concrete relation-type has an abstract declared role.
	R10 RuleID = "R10" // the vertex targeted by the mutation is a root.
)

/*
Violation is a single rule-catalogue failure, naming the rule and the
labels involved so a caller can render a useful message.
*/
type Violation struct {
	Rule    RuleID
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s", v.Rule, v.Message)
}

/*
Violations is a list of rule failures. A nil or empty Violations means
the mutation is valid. It implements error so it can be returned
directly, mirroring the teacher's errorutil.CompositeError.
*/
type Violations []Violation

/*
Error joins every violation into one message, via the teacher's
errorutil.CompositeError - the same collector graph/rules.go's
graphEvent uses to gather multiple rule failures into one error.
*/
func (v Violations) Error() string {
	ce := errorutil.NewCompositeError()
	for _, viol := range v {
		ce.Add(errors.New(viol.String()))
	}
	return ce.Error()
}

/*
HasViolations reports whether this list contains any entries.
*/
func (v Violations) HasViolations() bool {
	return len(v) > 0
}

/*
AsError returns v as an error, or nil if v is empty - so callers can
write `if err := violations.AsError(); err != nil { ... }`.
*/
func (v Violations) AsError() error {
	if !v.HasViolations() {
		return nil
	}
	return v
}
