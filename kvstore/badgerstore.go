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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

/*
Options configures a BadgerEngine. Loading these values from a config
file is the embedding process's job, not this package's - see spec.md
§1's "configuration-file loading" exclusion.
*/
type Options struct {
	Dir       string
	InMemory  bool
	ValueLogGC bool
}

/*
BadgerEngine owns one Badger database and hands out BadgerStore
transactions against it.
*/
type BadgerEngine struct {
	db *badger.DB
}

/*
OpenBadgerEngine opens (creating if necessary) a Badger database at the
configured location.
*/
func OpenBadgerEngine(opts Options) (*BadgerEngine, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithInMemory(opts.InMemory).WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, &StoreError{Type: ErrClosed, Detail: err.Error()}
	}

	return &BadgerEngine{db: db}, nil
}

/*
Close closes the underlying database.
*/
func (e *BadgerEngine) Close() error {
	return e.db.Close()
}

/*
Begin starts a new snapshot-isolated, read-your-writes transaction.
*/
func (e *BadgerEngine) Begin() *BadgerStore {
	return &BadgerStore{
		id:      uuid.NewString(),
		txn:     e.db.NewTransaction(true),
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

/*
BadgerStore is a Store backed by a Badger transaction plus a write
buffer that is only flushed to Badger at Commit. Buffering writes
ourselves, rather than writing through badger's own transaction
immediately, is what lets Rollback be a pure in-memory operation and
keeps Scan/Seek's merge logic explicit, matching spec.md §4.2's
"put/delete buffered; no durability before commit".
*/
type BadgerStore struct {
	mu sync.Mutex

	id  string
	txn *badger.Txn

	writes  map[string][]byte
	deletes map[string]bool

	closed bool
}

/*
ID returns this transaction's identifier.
*/
func (s *BadgerStore) ID() string {
	return s.id
}

func (s *BadgerStore) checkOpen() error {
	if s.closed {
		return &StoreError{Type: ErrClosed}
	}
	return nil
}

/*
Get looks up a single key, observing this transaction's own writes.
*/
func (s *BadgerStore) Get(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	item, err := s.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, &StoreError{Detail: err.Error()}
	}

	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, &StoreError{Detail: err.Error()}
	}

	return v, true, nil
}

/*
Put buffers a write.
*/
func (s *BadgerStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
func (s *BadgerStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	k := string(key)
	delete(s.writes, k)
	s.deletes[k] = true

	return nil
}

/*
Scan returns every key-value pair with the given prefix, merging the
write buffer over the transaction's Badger snapshot.
*/
func (s *BadgerStore) Scan(prefix []byte) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	committed, err := s.scanCommitted(prefix)
	if err != nil {
		return nil, err
	}

	return s.merge(committed, func(k []byte) bool { return bytes.HasPrefix(k, prefix) }), nil
}

/*
Seek returns every key-value pair with key >= the given key, merging
the write buffer over the transaction's Badger snapshot.
*/
func (s *BadgerStore) Seek(from []byte) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	committed, err := s.scanFrom(from)
	if err != nil {
		return nil, err
	}

	return s.merge(committed, func(k []byte) bool { return bytes.Compare(k, from) >= 0 }), nil
}

func (s *BadgerStore) scanCommitted(prefix []byte) ([]KV, error) {
	var out []KV

	it := s.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()

		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, &StoreError{Detail: err.Error()}
		}

		out = append(out, KV{Key: item.KeyCopy(nil), Value: v})
	}

	return out, nil
}

func (s *BadgerStore) scanFrom(from []byte) ([]KV, error) {
	var out []KV

	it := s.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(from); it.Valid(); it.Next() {
		item := it.Item()

		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, &StoreError{Detail: err.Error()}
		}

		out = append(out, KV{Key: item.KeyCopy(nil), Value: v})
	}

	return out, nil
}

func (s *BadgerStore) merge(committed []KV, match func([]byte) bool) Cursor {
	seen := make(map[string]bool, len(committed))
	var items []KV

	for k, v := range s.writes {
		if !match([]byte(k)) {
			continue
		}
		seen[k] = true
		items = append(items, KV{Key: []byte(k), Value: v})
	}

	for _, kv := range committed {
		k := string(kv.Key)
		if seen[k] || s.deletes[k] {
			continue
		}
		seen[k] = true
		items = append(items, kv)
	}

	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].Key, items[j].Key) < 0 })

	return &sliceCursor{items: items, pos: -1}
}

/*
Commit flushes the write buffer to Badger and commits atomically.
Badger returns ErrConflict if a concurrent transaction wrote an
overlapping key first; that maps to ErrConcurrentWrite per spec.md §5.
*/
func (s *BadgerStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	defer func() { s.closed = true; s.txn.Discard() }()

	for k := range s.deletes {
		if err := s.txn.Delete([]byte(k)); err != nil {
			return s.wrapCommitErr(err)
		}
	}
	for k, v := range s.writes {
		if err := s.txn.Set([]byte(k), v); err != nil {
			return s.wrapCommitErr(err)
		}
	}

	if err := s.txn.Commit(); err != nil {
		return s.wrapCommitErr(err)
	}

	return nil
}

func (s *BadgerStore) wrapCommitErr(err error) error {
	if err == badger.ErrConflict {
		return &StoreError{Type: ErrConcurrentWrite, Detail: err.Error()}
	}
	return &StoreError{Detail: err.Error()}
}

/*
CommitWithTimeout is Commit bounded by a caller-provided deadline, per
spec.md §5's "C2.commit has a caller-provided timeout".
*/
func (s *BadgerStore) CommitWithTimeout(timeout time.Duration) error {
	done := make(chan error, 1)

	go func() { done <- s.Commit() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return &StoreError{Type: ErrCommitTimeout, Detail: fmt.Sprintf("exceeded %s", timeout)}
	}
}

/*
Rollback discards the write buffer and the underlying Badger snapshot.
*/
func (s *BadgerStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.writes = make(map[string][]byte)
	s.deletes = make(map[string]bool)
	s.closed = true
	s.txn.Discard()

	return nil
}
