// Package value defines the core data model shared by every component of the
// storage engine: user keys/values, the monotonic sequence number, the
// internal key ordering used by the memtable and segments, and the on-disk
// value record shape.
package value

import (
	"bytes"
	"encoding/binary"
)

// UserKey is an arbitrary byte string supplied by the caller. Keys compare
// lexicographically.
type UserKey []byte

// UserValue is an arbitrary byte string supplied by the caller.
type UserValue []byte

// SeqNo is a monotonic sequence number assigned from a single atomic counter
// per keyspace. Higher values are more recent.
type SeqNo uint64

// MaxSeqNo is used as the upper bound when seeking to the newest version of
// a key ("seek to (key, MAX) returns the newest version first").
const MaxSeqNo SeqNo = ^SeqNo(0)

// ValueType distinguishes a live value from a tombstone (logical delete)
// marker.
type ValueType uint8

const (
	// TypeValue marks a live, readable value.
	TypeValue ValueType = iota
	// TypeTombstone marks a deletion that supersedes older Values for the
	// same user key.
	TypeTombstone
)

// IsTombstone reports whether this value type represents a deletion marker.
func (t ValueType) IsTombstone() bool {
	return t == TypeTombstone
}

// ParsedInternalKey is the tuple (user_key, seqno, value_type) used to order
// entries in the memtable and in segments: ascending user_key, then
// descending seqno, then value_type. This lets a single forward seek to
// (key, SeqNo max) return the newest visible version of a key first.
type ParsedInternalKey struct {
	UserKey UserKey
	SeqNo   SeqNo
	Type    ValueType
}

// NewParsedInternalKey builds a ParsedInternalKey from its components.
func NewParsedInternalKey(key UserKey, seqno SeqNo, t ValueType) ParsedInternalKey {
	return ParsedInternalKey{UserKey: key, SeqNo: seqno, Type: t}
}

// Compare orders two internal keys ascending by user key, then descending by
// seqno, then by value type. It is the single comparator every ordered
// structure in the engine (memtable skiplist, segment block index) is built
// around.
func Compare(a, b ParsedInternalKey) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	// Descending seqno: higher seqno sorts first (smaller in comparator terms).
	if a.SeqNo != b.SeqNo {
		if a.SeqNo > b.SeqNo {
			return -1
		}
		return 1
	}
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	return 0
}

// EncodeKey serializes a ParsedInternalKey into a byte string whose plain
// lexicographic (memcmp) order matches Compare. This is what backs the
// arenaskl skiplist, whose comparator is a flat byte comparison with no
// notion of "the first N bytes are the user key, the rest is a suffix" — so
// the user key cannot simply be written verbatim followed by the
// seqno/type suffix. A key that is a byte-wise prefix of another (e.g.
// "abc" vs "abc0") would then have its relative order decided by the first
// suffix byte instead of by the missing 4th character, which breaks the
// ascending-user-key ordering Compare defines and SeekPrefix depends on.
//
// To keep a flat byte comparison equivalent to comparing the user key first,
// the key is escape-terminated the way ordered key encodings universally
// handle variable-length components ahead of a fixed-width suffix: every
// 0x00 byte in the user key is escaped as 0x00 0xFF, and the escaped key is
// closed with a 0x00 0x00 terminator that cannot occur inside it. A shorter
// key's terminator byte (0x00) then always compares below any continuation
// byte a longer key with the same prefix could have at that position,
// which is exactly the ordering a byte-prefix relationship requires.
// The descending-seqno / ascending-type suffix follows the terminator.
func EncodeKey(k ParsedInternalKey) []byte {
	buf := make([]byte, 0, len(k.UserKey)+2+8+1)
	buf = appendEscaped(buf, k.UserKey)
	buf = append(buf, 0x00, 0x00)
	var suffix [8]byte
	binary.BigEndian.PutUint64(suffix[:], uint64(^k.SeqNo))
	buf = append(buf, suffix[:]...)
	buf = append(buf, byte(k.Type))
	return buf
}

// appendEscaped writes key to buf with every 0x00 byte escaped as 0x00 0xFF,
// so that the 0x00 0x00 terminator in EncodeKey can never appear inside an
// escaped key.
func appendEscaped(buf []byte, key []byte) []byte {
	start := 0
	for i, b := range key {
		if b == 0x00 {
			buf = append(buf, key[start:i+1]...)
			buf = append(buf, 0xFF)
			start = i + 1
		}
	}
	return append(buf, key[start:]...)
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(raw []byte) ParsedInternalKey {
	userKey := make(UserKey, 0, len(raw)-8-1-2)
	i := 0
	for {
		if raw[i] == 0x00 {
			if raw[i+1] == 0x00 {
				i += 2
				break
			}
			// Escaped 0x00 byte (raw[i+1] == 0xFF).
			userKey = append(userKey, 0x00)
			i += 2
			continue
		}
		userKey = append(userKey, raw[i])
		i++
	}

	seqno := SeqNo(^binary.BigEndian.Uint64(raw[i:]))
	t := ValueType(raw[i+8])
	return ParsedInternalKey{UserKey: userKey, SeqNo: seqno, Type: t}
}

// Value bundles a full internal entry as passed to the memtable and the
// segment writer.
type Value struct {
	Key       UserKey
	UserValue UserValue
	SeqNo     SeqNo
	Type      ValueType
}

// NewValue constructs a live value entry.
func NewValue(key UserKey, val UserValue, seqno SeqNo, t ValueType) Value {
	return Value{Key: key, UserValue: val, SeqNo: seqno, Type: t}
}

// IsTombstone reports whether this entry is a deletion marker.
func (v Value) IsTombstone() bool {
	return v.Type.IsTombstone()
}

// Size approximates the on-disk size of this entry: key length + value
// length + a fixed per-entry overhead (seqno + type + length prefixes), used
// by both the memtable's approximate-size counter and the segment writer's
// block-size accounting.
func (v Value) Size() int {
	return len(v.Key) + len(v.UserValue) + FixedOverhead
}

// FixedOverhead is the per-entry byte cost beyond key+value: an 8-byte
// seqno, a 1-byte value type, a 2-byte key length prefix and a 4-byte value
// length prefix (see the on-disk Value layout in internal/segment).
const FixedOverhead = 8 + 1 + 2 + 4
