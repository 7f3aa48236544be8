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
)

func TestNewVertexDefaults(t *testing.T) {
	v := newVertex(7, keycodec.AttributeType, "age", "")

	if v.ID() != 7 || v.Encoding() != keycodec.AttributeType || v.Label() != "age" {
		t.Error("unexpected vertex identity:", v.ID(), v.Encoding(), v.Label())
		return
	}
	if v.Abstract() || v.IsRoot() || v.Tombstoned() {
		t.Error("expected a freshly created vertex to start concrete, non-root, non-tombstoned")
		return
	}
	if v.Out == nil || v.In == nil {
		t.Error("expected both adjacencies to be initialised")
		return
	}
}

func TestVertexIndexKeyTracksLabelAndScope(t *testing.T) {
	v := newVertex(1, keycodec.RoleType, "spouse", "marriage")

	key := v.indexKey()
	if key.encoding != keycodec.RoleType || key.label != "spouse" || key.scope != "marriage" {
		t.Error("unexpected index key:", key)
		return
	}

	v.setLabel("partner")
	if v.indexKey().label != "partner" {
		t.Error("expected indexKey to reflect the new label")
		return
	}
	if !v.modified {
		t.Error("expected setLabel to mark the vertex modified")
		return
	}
}
