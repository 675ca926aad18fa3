package segment

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/iamNilotpal/ignitekv/internal/value"
	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
)

// BlockCache is the cache of decoded blocks a Reader consults before going
// to disk. internal/blockcache provides the engine's implementation; the
// Reader only depends on this get/insert capability.
type BlockCache interface {
	Get(segmentID string, offset uint64) ([]value.Value, bool)
	Insert(segmentID string, offset uint64, items []value.Value)
}

// Reader iterates a finished segment's blocks in order via its block index.
// It exists to exercise the descriptor table and block cache interfaces and
// to make the writer/reader round trip testable; it is not a full
// range/prefix iterator (that composition layer is out of scope).
type Reader struct {
	dir     string
	meta    *Metadata
	entries []indexEntry // excludes the trailing sentinel
	blocks  *os.File
	cache   BlockCache

	// ownsFile is false when blocks was handed in by a caller pooling
	// descriptors (internal/descriptor.Table) rather than opened by this
	// Reader itself, in which case Close must not touch it — the pool, not
	// the Reader, owns that handle's lifecycle.
	ownsFile bool
}

// OpenReader opens a finished segment directory for reading, opening its
// own blocks file handle. It returns an error wrapping os.ErrNotExist if
// meta.json is absent, per the "a segment missing meta.json is considered
// absent" invariant.
func OpenReader(dir string) (*Reader, error) {
	meta, entries, err := loadSegmentIndex(dir)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, "blocks"))
	if err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to open blocks file").WithSegmentID(meta.ID).WithPath(dir)
	}

	return &Reader{dir: dir, meta: meta, entries: entries, blocks: f, ownsFile: true}, nil
}

// OpenReaderWithFile builds a Reader over an already-open blocks file
// handle, typically one checked out from internal/descriptor.Table's pool
// rather than opened fresh — this is how partition reads exercise the
// descriptor table instead of reopening a segment's blocks file on every
// access. The caller remains responsible for releasing that handle (e.g.
// via its descriptor.FileGuard); Reader.Close is a no-op in this mode.
func OpenReaderWithFile(dir string, blocks *os.File) (*Reader, error) {
	meta, entries, err := loadSegmentIndex(dir)
	if err != nil {
		return nil, err
	}
	return &Reader{dir: dir, meta: meta, entries: entries, blocks: blocks, ownsFile: false}, nil
}

func loadSegmentIndex(dir string) (*Metadata, []indexEntry, error) {
	meta, err := ReadMetadata(dir)
	if err != nil {
		return nil, nil, err
	}

	entries, err := readIndexEntries(filepath.Join(dir, "index"))
	if err != nil {
		return nil, nil, err
	}
	if len(entries) > 0 {
		entries = entries[:len(entries)-1] // drop the sentinel
	}
	return meta, entries, nil
}

// Metadata returns the segment's parsed meta.json record.
func (r *Reader) Metadata() *Metadata { return r.meta }

// WithCache attaches a block cache consulted by every subsequent block
// read. Passing nil leaves the reader going straight to disk.
func (r *Reader) WithCache(cache BlockCache) *Reader {
	r.cache = cache
	return r
}

// Close releases the underlying blocks file handle, unless it was handed in
// by a descriptor pool (see OpenReaderWithFile), in which case it is a
// no-op.
func (r *Reader) Close() error {
	if !r.ownsFile {
		return nil
	}
	return r.blocks.Close()
}

// readBlock reads and decompresses the block at the given index entry,
// consulting the attached block cache first and populating it on a miss.
func (r *Reader) readBlock(e indexEntry) ([]value.Value, error) {
	if r.cache != nil {
		if items, ok := r.cache.Get(r.meta.ID, e.offset); ok {
			return items, nil
		}
	}

	var lenBuf [4]byte
	if _, err := r.blocks.ReadAt(lenBuf[:], int64(e.offset)); err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to read block length prefix").
			WithSegmentID(r.meta.ID).WithOffset(int64(e.offset))
	}
	uncompressedLen := int(binary.BigEndian.Uint32(lenBuf[:]))

	compressed := make([]byte, int(e.size)-4)
	if _, err := r.blocks.ReadAt(compressed, int64(e.offset)+4); err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to read block body").
			WithSegmentID(r.meta.ID).WithOffset(int64(e.offset))
	}

	items, err := decodeBlock(compressed, uncompressedLen)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Insert(r.meta.ID, e.offset, items)
	}
	return items, nil
}

// All iterates every item in the segment, in ascending (key, descending
// seqno) order, invoking fn for each. It stops and returns fn's error if fn
// returns one.
func (r *Reader) All(fn func(value.Value) error) error {
	for _, e := range r.entries {
		items, err := r.readBlock(e)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetAt is Get with the same point-in-time contract as
// internal/memtable.MemTable.Get: a nil atSeqno returns the newest version
// of userKey; a non-nil one returns the first entry with SeqNo < *atSeqno
// (entries within a block are ordered descending by seqno, matching the
// memtable's encoding, so this is a forward scan stopping at the first
// qualifying entry).
func (r *Reader) GetAt(userKey value.UserKey, atSeqno *value.SeqNo) (value.Value, bool, error) {
	if atSeqno == nil {
		return r.Get(userKey)
	}

	for i, e := range r.entries {
		if i+1 < len(r.entries) {
			next := r.entries[i+1]
			if compareBytes(userKey, next.firstKey) > 0 {
				continue
			}
		}
		if compareBytes(userKey, e.firstKey) < 0 {
			continue
		}

		items, err := r.readBlock(e)
		if err != nil {
			return value.Value{}, false, err
		}
		for _, it := range items {
			if string(it.Key) == string(userKey) && it.SeqNo < *atSeqno {
				return it, true, nil
			}
		}
	}
	return value.Value{}, false, nil
}

// Get scans blocks whose key range could contain userKey and returns the
// first matching entry (newest version first, by construction of the
// writer's input order), or io.EOF-style false if absent. It is a simple
// linear scan over the block index rather than a binary search, since the
// index is expected to be small relative to block count in this reader's
// intended usage (tests and the flush/compaction boundary, not a hot read
// path — that composition belongs to the out-of-scope iterator layer).
func (r *Reader) Get(userKey value.UserKey) (value.Value, bool, error) {
	for i, e := range r.entries {
		// A block whose first_key is <= userKey and whose next block's
		// first_key is >= userKey (or there is no next block) may contain it.
		// Versions of one key can straddle a block boundary, so each such
		// block is scanned in order until a match is found.
		if i+1 < len(r.entries) {
			next := r.entries[i+1]
			if compareBytes(userKey, next.firstKey) > 0 {
				continue
			}
		}
		if compareBytes(userKey, e.firstKey) < 0 {
			continue
		}

		items, err := r.readBlock(e)
		if err != nil {
			return value.Value{}, false, err
		}
		for _, it := range items {
			if string(it.Key) == string(userKey) {
				return it, true, nil
			}
		}
	}
	return value.Value{}, false, nil
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}
