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
Package keycodec encodes and decodes the byte keys under which the schema
graph persists vertices, edges, properties and the label index.

The codec is total and injective: encode and decode round-trip for every
well-formed key, and decode fails with a KeyError of type ErrMalformedKey
or ErrUnsupportedSchemaVer for anything else.

Key shapes

	vertex key   = version ++ vertexTag   ++ encoding ++ id
	edge key     = version ++ edgeTag     ++ vertexkey(from) ++ direction ++ encoding ++ vertexkey(to)
	property key = version ++ propertyTag ++ vertexkey ++ tag
	index key    = version ++ indexTag    ++ encoding ++ len(label) ++ label ++ scope

Ids are encoded big-endian so that byte-lexicographic key order equals
numeric id order; this is what lets the storage adapter's sorted scans
feed the typed adjacency's merge-style iteration directly.
*/
package keycodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
SchemaVersion is the one-byte version written at the root of every key.
Readers reject any other value with ErrUnsupportedSchemaVer.
*/
const SchemaVersion byte = 1

// Key-kind tag bytes. Distinct from each other so that a key's kind can
// always be told apart from its neighbours in a single ordered keyspace.
const (
	vertexTag   byte = 0x01
	edgeTag     byte = 0x02
	propertyTag byte = 0x03
	indexTag    byte = 0x04
)

/*
VertexEncoding identifies the kind of a type vertex.
*/
type VertexEncoding byte

const (
	EntityType VertexEncoding = iota + 1
	RelationType
	AttributeType
	RoleType
	ThingRoot
)

/*
String returns a human-readable name, used in violation messages.
*/
func (e VertexEncoding) String() string {
	switch e {
	case EntityType:
		return "entity-type"
	case RelationType:
		return "relation-type"
	case AttributeType:
		return "attribute-type"
	case RoleType:
		return "role-type"
	case ThingRoot:
		return "thing-root"
	}
	return fmt.Sprintf("vertex-encoding(%d)", byte(e))
}

/*
EdgeEncoding identifies the kind of a type edge.
*/
type EdgeEncoding byte

const (
	Sub EdgeEncoding = iota + 1
	Owns
	OwnsKey
	Plays
	Relates
)

/*
String returns a human-readable name, used in violation messages.
*/
func (e EdgeEncoding) String() string {
	switch e {
	case Sub:
		return "SUB"
	case Owns:
		return "OWNS"
	case OwnsKey:
		return "OWNS_KEY"
	case Plays:
		return "PLAYS"
	case Relates:
		return "RELATES"
	}
	return fmt.Sprintf("edge-encoding(%d)", byte(e))
}

/*
Direction tags which endpoint of an edge a key was written from.
*/
type Direction byte

const (
	Out Direction = iota + 1
	In
)

/*
PropertyTag identifies which scalar property a property key addresses.
*/
type PropertyTag byte

const (
	TagLabel PropertyTag = iota + 1
	TagScope
	TagAbstract
	TagValueType
)

// Error types. Compared by identity, as with the teacher's GraphError.
var (
	ErrMalformedKey         = errors.New("malformed key")
	ErrUnsupportedSchemaVer = errors.New("unsupported schema version")
)

/*
KeyError is a key-codec related error.
*/
type KeyError struct {
	Type   error
	Detail string
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *KeyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("KeyError: %v (%v)", e.Type, e.Detail)
	}
	return fmt.Sprintf("KeyError: %v", e.Type)
}

func malformed(detail string) *KeyError {
	return &KeyError{Type: ErrMalformedKey, Detail: detail}
}

/*
checkVersion strips and validates the leading schema-version byte.
*/
func checkVersion(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, malformed("empty key")
	}
	if key[0] != SchemaVersion {
		return nil, &KeyError{Type: ErrUnsupportedSchemaVer, Detail: fmt.Sprintf("got %d", key[0])}
	}
	return key[1:], nil
}

/*
EncodeVertexKey encodes the key under which a type vertex's existence
marker is stored.
*/
func EncodeVertexKey(encoding VertexEncoding, id uint64) []byte {
	buf := make([]byte, 0, 1+1+1+8)
	buf = append(buf, SchemaVersion, vertexTag, byte(encoding))
	buf = binary.BigEndian.AppendUint64(buf, id)
	return buf
}

/*
DecodeVertexKey reverses EncodeVertexKey.
*/
func DecodeVertexKey(key []byte) (VertexEncoding, uint64, error) {
	rest, err := checkVersion(key)
	if err != nil {
		return 0, 0, err
	}
	if len(rest) != 1+1+8 || rest[0] != vertexTag {
		return 0, 0, malformed("not a vertex key")
	}
	encoding := VertexEncoding(rest[1])
	id := binary.BigEndian.Uint64(rest[2:10])
	return encoding, id, nil
}

/*
EncodeEdgeKey encodes one directional record of an edge. Every edge is
written twice, once from each endpoint, with direction Out from the
"from" endpoint and In from the "to" endpoint; see schema/adjacency.go.
*/
func EncodeEdgeKey(fromEncoding VertexEncoding, fromID uint64, dir Direction,
	edgeEncoding EdgeEncoding, toEncoding VertexEncoding, toID uint64) []byte {

	from := EncodeVertexKey(fromEncoding, fromID)
	to := EncodeVertexKey(toEncoding, toID)

	buf := make([]byte, 0, len(from)+2+len(to))
	buf = append(buf, from[1:]...) // version already carried by the outer key
	buf = append(buf, byte(dir), byte(edgeEncoding))
	buf = append(buf, to...)

	out := make([]byte, 0, len(buf)+2)
	out = append(out, SchemaVersion, edgeTag)
	out = append(out, buf...)
	return out
}

/*
DecodeEdgeKey reverses EncodeEdgeKey.
*/
func DecodeEdgeKey(key []byte) (fromEncoding VertexEncoding, fromID uint64, dir Direction,
	edgeEncoding EdgeEncoding, toEncoding VertexEncoding, toID uint64, err error) {

	rest, err := checkVersion(key)
	if err != nil {
		return
	}
	if len(rest) < 1 || rest[0] != edgeTag {
		err = malformed("not an edge key")
		return
	}
	rest = rest[1:]

	// from-vertex is encoded without its own version byte here
	if len(rest) < 1+1+8 || rest[0] != vertexTag {
		err = malformed("truncated edge key (from)")
		return
	}
	fromEncoding = VertexEncoding(rest[1])
	fromID = binary.BigEndian.Uint64(rest[2:10])
	rest = rest[10:]

	if len(rest) < 2 {
		err = malformed("truncated edge key (direction/encoding)")
		return
	}
	dir = Direction(rest[0])
	edgeEncoding = EdgeEncoding(rest[1])
	rest = rest[2:]

	toEncoding, toID, err = DecodeVertexKey(rest)
	if err != nil {
		err = malformed("truncated edge key (to)")
		return
	}

	return
}

/*
EncodePropertyKey encodes the key under which one scalar property of a
vertex is stored.
*/
func EncodePropertyKey(vertexKey []byte, tag PropertyTag) []byte {
	buf := make([]byte, 0, 1+1+(len(vertexKey)-1)+1)
	buf = append(buf, SchemaVersion, propertyTag)
	buf = append(buf, vertexKey[1:]...) // vertexTag ++ encoding ++ id, version dropped
	buf = append(buf, byte(tag))
	return buf
}

/*
DecodePropertyKey reverses EncodePropertyKey, returning the vertex key
it was derived from and the property tag.
*/
func DecodePropertyKey(key []byte) ([]byte, PropertyTag, error) {
	rest, err := checkVersion(key)
	if err != nil {
		return nil, 0, err
	}
	if len(rest) < 1 || rest[0] != propertyTag {
		return nil, 0, malformed("not a property key")
	}
	rest = rest[1:]

	if len(rest) != 1+1+8+1 {
		return nil, 0, malformed("truncated property key")
	}

	vertexBody := rest[:len(rest)-1] // vertexTag ++ encoding ++ id
	tag := PropertyTag(rest[len(rest)-1])

	vertexKey := make([]byte, 0, 1+len(vertexBody))
	vertexKey = append(vertexKey, SchemaVersion)
	vertexKey = append(vertexKey, vertexBody...)

	return vertexKey, tag, nil
}

/*
EncodeIndexKey encodes the label/scope -> id index entry for a vertex.
scope is empty for everything except role-type vertices.
*/
func EncodeIndexKey(encoding VertexEncoding, label, scope string) []byte {
	buf := make([]byte, 0, 2+1+2+len(label)+len(scope))
	buf = append(buf, SchemaVersion, indexTag, byte(encoding))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(label)))
	buf = append(buf, label...)
	buf = append(buf, scope...)
	return buf
}

/*
DecodeIndexKey reverses EncodeIndexKey.
*/
func DecodeIndexKey(key []byte) (encoding VertexEncoding, label, scope string, err error) {
	rest, err := checkVersion(key)
	if err != nil {
		return
	}
	if len(rest) < 1+1+2 || rest[0] != indexTag {
		err = malformed("not an index key")
		return
	}
	encoding = VertexEncoding(rest[1])
	rest = rest[2:]

	labelLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]

	if len(rest) < labelLen {
		err = malformed("truncated index key")
		return
	}
	label = string(rest[:labelLen])
	scope = string(rest[labelLen:])

	return
}

/*
IndexPrefix returns the shared prefix of every index key for the given
encoding, usable as a scan prefix to enumerate every label under that
encoding.
*/
func IndexPrefix(encoding VertexEncoding) []byte {
	return []byte{SchemaVersion, indexTag, byte(encoding)}
}

/*
VertexPrefix returns the shared prefix of every vertex key of the given
encoding.
*/
func VertexPrefix(encoding VertexEncoding) []byte {
	return []byte{SchemaVersion, vertexTag, byte(encoding)}
}

/*
EdgePrefixFrom returns the shared prefix of every edge-key record whose
origin endpoint (the "from" parameter passed to EncodeEdgeKey, not
necessarily the edge's logical from-vertex - see schema/adjacency.go)
is the given vertex. Scanning this prefix yields both OUT and IN
records owned by that vertex, since direction immediately follows it.
*/
func EdgePrefixFrom(encoding VertexEncoding, id uint64) []byte {
	buf := make([]byte, 0, 2+1+1+8)
	buf = append(buf, SchemaVersion, edgeTag, vertexTag, byte(encoding))
	buf = binary.BigEndian.AppendUint64(buf, id)
	return buf
}
