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
Package kvstore provides the ordered key-value storage adapter the schema
graph persists through (component C2 of the schema graph core).

Store is the trait-like interface described in spec.md §6: get/put/
delete/scan/seek/commit/rollback over a byte-lexicographically ordered
keyspace, with snapshot isolation across concurrent transactions and
read-your-writes within one. BadgerStore backs it with a real embedded
LSM-tree store (github.com/dgraph-io/badger/v4); MemoryStore is an
in-memory stand-in used by the schema package's tests, playing the role
EliasDB's MemoryGraphStorage plays for that project's own test suite.
*/
package kvstore

import (
	"errors"
	"fmt"
)

/*
KV is a single ordered key-value pair, as produced by a Cursor.
*/
type KV struct {
	Key   []byte
	Value []byte
}

/*
Cursor is a sorted sequence of key-value pairs produced by Scan or Seek.
It is forward-only and must be closed after use.
*/
type Cursor interface {

	/*
	   Next advances the cursor and reports whether a further pair is
	   available. It must be called before the first Item call.
	*/
	Next() bool

	/*
	   Item returns the key-value pair at the cursor's current position.
	*/
	Item() KV

	/*
	   Close releases resources held by the cursor.
	*/
	Close()
}

/*
Store is the backing key-value store a schema graph transaction reads
and writes through.
*/
type Store interface {

	/*
	   Get looks up a single key. The second return value is false if the
	   key is absent - absence is not an error.
	*/
	Get(key []byte) ([]byte, bool, error)

	/*
	   Put buffers a write. It is not durable, and not visible to other
	   transactions, before Commit.
	*/
	Put(key, value []byte) error

	/*
	   Delete buffers a delete.
	*/
	Delete(key []byte) error

	/*
	   Scan returns every key-value pair whose key has the given prefix,
	   in ascending key order, merging this transaction's write buffer
	   over the committed snapshot the transaction started from.
	*/
	Scan(prefix []byte) (Cursor, error)

	/*
	   Seek returns every key-value pair with key >= the given key, in
	   ascending key order, with the same merge semantics as Scan.
	*/
	Seek(key []byte) (Cursor, error)

	/*
	   Commit makes every buffered write visible atomically: either all
	   of them apply, or none do.
	*/
	Commit() error

	/*
	   Rollback discards every buffered write.
	*/
	Rollback() error
}

// Error types. Compared by identity, as with the teacher's ManagerError.
var (
	ErrConcurrentWrite = errors.New("concurrent schema write")
	ErrCommitTimeout   = errors.New("commit timeout")
	ErrClosed          = errors.New("store is closed")
)

/*
StoreError is a storage-adapter related error.
*/
type StoreError struct {
	Type   error
	Detail string
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *StoreError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("StoreError: %v (%v)", e.Type, e.Detail)
	}
	return fmt.Sprintf("StoreError: %v", e.Type)
}
