/*
 * TypeDB Schema Graph
 *
 * Copyright 2024 The TypeDB Schema Graph Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package kvstore

import (
	"bytes"
	"testing"
)

func collect(c Cursor) []KV {
	var out []KV
	for c.Next() {
		out = append(out, c.Item())
	}
	c.Close()
	return out
}

func TestMemoryStoreReadYourWrites(t *testing.T) {
	s := NewMemoryStore()

	if err := s.Put([]byte("a"), []byte("1")); err != nil {
		t.Error(err)
		return
	}

	v, ok, err := s.Get([]byte("a"))
	if err != nil || !ok || !bytes.Equal(v, []byte("1")) {
		t.Error("Expected to read back buffered write:", v, ok, err)
		return
	}
}

func TestMemoryStoreCommitVisibility(t *testing.T) {
	backend := NewMemoryBackend()

	tx1 := backend.Begin()
	if err := tx1.Put([]byte("k"), []byte("v")); err != nil {
		t.Error(err)
		return
	}

	tx2 := backend.Begin()
	if _, ok, _ := tx2.Get([]byte("k")); ok {
		t.Error("Uncommitted write must not be visible to another transaction")
		return
	}

	if err := tx1.Commit(); err != nil {
		t.Error(err)
		return
	}

	tx3 := backend.Begin()
	v, ok, err := tx3.Get([]byte("k"))
	if err != nil || !ok || !bytes.Equal(v, []byte("v")) {
		t.Error("Expected committed write to be visible to a fresh transaction:", v, ok, err)
		return
	}
}

func TestMemoryStoreRollbackDiscardsWrites(t *testing.T) {
	backend := NewMemoryBackend()

	tx := backend.Begin()
	if err := tx.Put([]byte("k"), []byte("v")); err != nil {
		t.Error(err)
		return
	}
	if err := tx.Rollback(); err != nil {
		t.Error(err)
		return
	}

	fresh := backend.Begin()
	if _, ok, _ := fresh.Get([]byte("k")); ok {
		t.Error("Rolled-back write must not be visible")
		return
	}
}

func TestMemoryStoreScanOrderingAndSeek(t *testing.T) {
	s := NewMemoryStore()

	for _, id := range []string{"e", "b", "h", "f", "c"} {
		if err := s.Put([]byte("p"+id), []byte(id)); err != nil {
			t.Error(err)
			return
		}
	}

	cur, err := s.Scan([]byte("p"))
	if err != nil {
		t.Error(err)
		return
	}

	got := collect(cur)
	want := []string{"b", "c", "e", "f", "h"}

	if len(got) != len(want) {
		t.Error("Unexpected result count:", len(got))
		return
	}
	for i, kv := range got {
		if string(kv.Value) != want[i] {
			t.Error("Unexpected order at", i, ":", string(kv.Value))
			return
		}
	}

	seekCur, err := s.Seek([]byte("pf"))
	if err != nil {
		t.Error(err)
		return
	}

	gotSeek := collect(seekCur)
	wantSeek := []string{"f", "h"}

	if len(gotSeek) != len(wantSeek) {
		t.Error("Unexpected seek result count:", len(gotSeek))
		return
	}
	for i, kv := range gotSeek {
		if string(kv.Value) != wantSeek[i] {
			t.Error("Unexpected seek order at", i, ":", string(kv.Value))
			return
		}
	}
}

func TestMemoryStoreDeleteBuffering(t *testing.T) {
	backend := NewMemoryBackend()

	seed := backend.Begin()
	if err := seed.Put([]byte("k"), []byte("v")); err != nil {
		t.Error(err)
		return
	}
	if err := seed.Commit(); err != nil {
		t.Error(err)
		return
	}

	tx := backend.Begin()
	if err := tx.Delete([]byte("k")); err != nil {
		t.Error(err)
		return
	}

	if _, ok, _ := tx.Get([]byte("k")); ok {
		t.Error("Deleted key must not be visible within the same transaction")
		return
	}

	cur, err := tx.Scan([]byte("k"))
	if err != nil {
		t.Error(err)
		return
	}
	if got := collect(cur); len(got) != 0 {
		t.Error("Deleted key must not appear in a scan:", got)
		return
	}
}
