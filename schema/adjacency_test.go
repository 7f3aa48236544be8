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

func TestAdjacencySortedForwardableIteration(t *testing.T) {
	owner := newVertex(100, keycodec.EntityType, "owner", "")

	for _, id := range []ID{5, 2, 9, 7, 3} {
		owner.Out.put(keycodec.Plays, id, &Edge{
			Encoding: keycodec.Plays, From: owner.id, FromEncoding: owner.encoding,
			To: id, ToEncoding: keycodec.RoleType,
		})
	}

	it := owner.Out.Iterator(keycodec.Plays)
	var got []ID
	for it.Next() {
		got = append(got, it.Peer())
	}
	want := []ID{2, 3, 5, 7, 9}
	if len(got) != len(want) {
		t.Error("unexpected iteration length:", got)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Error("unexpected order at", i, ":", got)
			return
		}
	}

	seek := owner.Out.Iterator(keycodec.Plays)
	if !seek.Seek(6) {
		t.Error("expected seek(6) to find an element")
		return
	}
	var gotSeek []ID
	for {
		gotSeek = append(gotSeek, seek.Peer())
		if !seek.Next() {
			break
		}
	}
	wantSeek := []ID{7, 9}
	if len(gotSeek) != len(wantSeek) {
		t.Error("unexpected seek result length:", gotSeek)
		return
	}
	for i := range wantSeek {
		if gotSeek[i] != wantSeek[i] {
			t.Error("unexpected seek order at", i, ":", gotSeek)
			return
		}
	}
}

func TestAdjacencyIteratorSurvivesConcurrentRemoval(t *testing.T) {
	owner := newVertex(100, keycodec.EntityType, "owner", "")
	for _, id := range []ID{1, 2, 3} {
		owner.Out.put(keycodec.Plays, id, &Edge{Encoding: keycodec.Plays, From: owner.id, To: id, ToEncoding: keycodec.RoleType})
	}

	it := owner.Out.Iterator(keycodec.Plays)
	owner.Out.remove(keycodec.Plays, 2)

	var seen []ID
	for it.Next() {
		seen = append(seen, it.Peer())
	}

	if len(seen) != 3 {
		t.Error("iterator snapshot should still walk every originally-present peer id, got", seen)
		return
	}
	if e := it.set.byPeer[2]; e != nil {
		t.Error("expected the removed edge to be gone from the live map")
		return
	}
}

func TestAdjacencyCacheYieldsToBufferedWrite(t *testing.T) {
	owner := newVertex(100, keycodec.EntityType, "owner", "")

	buffered := &Edge{Encoding: keycodec.Plays, To: 1, ToEncoding: keycodec.RoleType, Annotations: 1}
	owner.Out.put(keycodec.Plays, 1, buffered)

	fromStorage := &Edge{Encoding: keycodec.Plays, To: 1, ToEncoding: keycodec.RoleType, Annotations: 2}
	owner.Out.cache(keycodec.Plays, 1, fromStorage)

	got, ok := owner.Out.Edge(keycodec.Plays, 1)
	if !ok {
		t.Error("expected an edge")
		return
	}
	if got.Annotations != buffered.Annotations {
		t.Error("expected the buffered write to win over cache, got annotations", got.Annotations)
		return
	}
}

func TestAdjacencyDeleteEncodingRemovesEveryPeer(t *testing.T) {
	owner := newVertex(100, keycodec.EntityType, "owner", "")
	for _, id := range []ID{1, 2, 3} {
		owner.Out.put(keycodec.Plays, id, &Edge{Encoding: keycodec.Plays, To: id, ToEncoding: keycodec.RoleType})
	}

	removed := owner.Out.deleteEncoding(keycodec.Plays)
	if len(removed) != 3 {
		t.Error("expected 3 removed edges, got", len(removed))
		return
	}
	if it := owner.Out.Iterator(keycodec.Plays); it.Next() {
		t.Error("expected no remaining peers")
		return
	}
}

func TestAdjacencyDeleteAllRemovesEveryEncoding(t *testing.T) {
	owner := newVertex(100, keycodec.EntityType, "owner", "")
	owner.Out.put(keycodec.Plays, 1, &Edge{Encoding: keycodec.Plays, To: 1, ToEncoding: keycodec.RoleType})
	owner.Out.put(keycodec.Plays, 2, &Edge{Encoding: keycodec.Plays, To: 2, ToEncoding: keycodec.RoleType})
	owner.Out.put(keycodec.Owns, 3, &Edge{Encoding: keycodec.Owns, To: 3, ToEncoding: keycodec.AttributeType})
	owner.Out.put(keycodec.Sub, 4, &Edge{Encoding: keycodec.Sub, To: 4, ToEncoding: keycodec.EntityType})

	removed := owner.Out.deleteAll()
	if len(removed) != 4 {
		t.Error("expected 4 removed edges across every encoding, got", len(removed))
		return
	}
	for _, encoding := range []keycodec.EdgeEncoding{keycodec.Plays, keycodec.Owns, keycodec.Sub} {
		if it := owner.Out.Iterator(encoding); it.Next() {
			t.Error("expected no remaining peers for", encoding)
			return
		}
	}
}
