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
	"sort"
	"sync"
)

/*
MemoryBackend is the process-wide committed state behind one or more
MemoryStore transactions. It plays the role the teacher's
MemoryGraphStorage plays for EliasDB: a test double for the real disk
store, never used in production.
*/
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

/*
NewMemoryBackend creates an empty backend.
*/
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

/*
Begin starts a new snapshot-isolated transaction against this backend.
*/
func (b *MemoryBackend) Begin() *MemoryStore {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string][]byte, len(b.data))
	for k, v := range b.data {
		snapshot[k] = v
	}

	return &MemoryStore{
		backend:  b,
		snapshot: snapshot,
		writes:   make(map[string][]byte),
		deletes:  make(map[string]bool),
	}
}

/*
MemoryStore is an in-memory Store backed by a MemoryBackend snapshot.
*/
type MemoryStore struct {
	backend  *MemoryBackend
	snapshot map[string][]byte
	writes   map[string][]byte
	deletes  map[string]bool
	closed   bool
}

/*
NewMemoryStore creates a standalone store with its own backend - a
convenience for tests that only need a single transaction.
*/
func NewMemoryStore() *MemoryStore {
	return NewMemoryBackend().Begin()
}

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return &StoreError{Type: ErrClosed}
	}
	return nil
}

/*
Get looks up a single key, observing this transaction's own writes.
*/
func (s *MemoryStore) Get(key []byte) ([]byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	k := string(key)

	if s.deletes[k] {
		return nil, false, nil
	}
	if v, ok := s.writes[k]; ok {
		return v, true, nil
	}
	if v, ok := s.snapshot[k]; ok {
		return v, true, nil
	}

	return nil, false, nil
}

/*
Put buffers a write.
*/
func (s *MemoryStore) Put(key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	k := string(key)
	delete(s.deletes, k)
	s.writes[k] = append([]byte{}, value...)

	return nil
}

/*
Delete buffers a delete.
*/
func (s *MemoryStore) Delete(key []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	k := string(key)
	delete(s.writes, k)
	s.deletes[k] = true

	return nil
}

/*
Scan returns every key-value pair with the given prefix.
*/
func (s *MemoryStore) Scan(prefix []byte) (Cursor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.cursor(func(k string) bool { return bytes.HasPrefix([]byte(k), prefix) }), nil
}

/*
Seek returns every key-value pair with key >= the given key.
*/
func (s *MemoryStore) Seek(from []byte) (Cursor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.cursor(func(k string) bool { return bytes.Compare([]byte(k), from) >= 0 }), nil
}

func (s *MemoryStore) cursor(match func(string) bool) Cursor {
	seen := make(map[string]bool)
	var items []KV

	add := func(k string, v []byte) {
		if seen[k] || s.deletes[k] {
			return
		}
		seen[k] = true
		if !match(k) {
			return
		}
		items = append(items, KV{Key: []byte(k), Value: v})
	}

	for k, v := range s.writes {
		add(k, v)
	}
	for k, v := range s.snapshot {
		if _, ok := s.writes[k]; ok {
			continue
		}
		add(k, v)
	}

	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].Key, items[j].Key) < 0 })

	return &sliceCursor{items: items, pos: -1}
}

/*
Commit applies every buffered write to the backend atomically.
*/
func (s *MemoryStore) Commit() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	for k := range s.deletes {
		delete(s.backend.data, k)
	}
	for k, v := range s.writes {
		s.backend.data[k] = v
	}

	s.closed = true

	return nil
}

/*
Rollback discards every buffered write.
*/
func (s *MemoryStore) Rollback() error {
	s.writes = make(map[string][]byte)
	s.deletes = make(map[string]bool)
	s.closed = true
	return nil
}

/*
sliceCursor is a Cursor over a pre-materialised, sorted slice of pairs.
*/
type sliceCursor struct {
	items []KV
	pos   int
}

func (c *sliceCursor) Next() bool {
	c.pos++
	return c.pos < len(c.items)
}

func (c *sliceCursor) Item() KV {
	return c.items[c.pos]
}

func (c *sliceCursor) Close() {}
