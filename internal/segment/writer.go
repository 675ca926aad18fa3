// Package segment implements the on-disk immutable sorted-run format: the
// Writer/MultiWriter pair that serialize a sorted stream of values into
// LZ4-compressed, CRC32-checksummed blocks plus a block index and a
// meta.json record, and a Reader that iterates them back out.
package segment

import (
	"os"
	"path/filepath"

	"github.com/iamNilotpal/ignitekv/internal/value"
	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
	"github.com/iamNilotpal/ignitekv/pkg/filesys"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// BlockSize is the uncompressed-bytes threshold at which a chunk is
	// flushed as a block.
	BlockSize uint32
	// EvictTombstones drops Tombstone entries silently instead of writing
	// them, used during compaction once a tombstone is known to be older
	// than every surviving version of its key.
	EvictTombstones bool
}

// Writer consumes a sorted stream of Values and serializes them into a
// single segment directory (a blocks file, an index file, and meta.json).
type Writer struct {
	dir     string
	id      string
	opts    WriterOptions
	blocks  *os.File
	index   *indexWriter
	chunk   []value.Value
	chunkSz uint32
	filePos uint64

	itemCount        uint64
	tombstoneCount   uint64
	blockCount       uint64
	uncompressedSize uint64
	firstKey         []byte
	lastKey          []byte
	lowestSeqno      value.SeqNo
	highestSeqno     value.SeqNo
	haveSeqno        bool
	finished         bool
}

// NewWriter creates a fresh segment directory under parentDir and opens a
// Writer over it.
func NewWriter(parentDir string, opts WriterOptions) (*Writer, error) {
	id := NewID()
	dir := filepath.Join(parentDir, id)
	if err := filesys.CreateDir(dir, 0755, false); err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to create segment directory").WithSegmentID(id).WithPath(dir)
	}

	blocksPath := filepath.Join(dir, "blocks")
	f, err := os.OpenFile(blocksPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to create blocks file").WithSegmentID(id).WithPath(blocksPath)
	}
	if _, err := f.Write([]byte{blocksFileVersion}); err != nil {
		f.Close()
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to write blocks file header").WithSegmentID(id).WithPath(blocksPath)
	}

	idx, err := newIndexWriter(filepath.Join(dir, "index"))
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{
		dir:     dir,
		id:      id,
		opts:    opts,
		blocks:  f,
		index:   idx,
		filePos: 1, // past the version byte
	}, nil
}

// ID returns the segment ID this writer is producing.
func (w *Writer) ID() string { return w.id }

// FilePos returns the current length of the blocks file, used by MultiWriter
// to decide when to rotate.
func (w *Writer) FilePos() uint64 { return w.filePos }

// Write appends one Value to the writer's current chunk, flushing the chunk
// as a block once it reaches BlockSize.
func (w *Writer) Write(v value.Value) error {
	if v.IsTombstone() && w.opts.EvictTombstones {
		return nil
	}

	if w.firstKey == nil {
		w.firstKey = append([]byte(nil), v.Key...)
	}
	w.lastKey = append([]byte(nil), v.Key...)

	if !w.haveSeqno {
		w.lowestSeqno, w.highestSeqno = v.SeqNo, v.SeqNo
		w.haveSeqno = true
	} else {
		if v.SeqNo < w.lowestSeqno {
			w.lowestSeqno = v.SeqNo
		}
		if v.SeqNo > w.highestSeqno {
			w.highestSeqno = v.SeqNo
		}
	}

	if v.IsTombstone() {
		w.tombstoneCount++
	}
	w.itemCount++

	w.chunk = append(w.chunk, v)
	w.chunkSz += uint32(v.Size())

	if w.chunkSz >= w.opts.BlockSize {
		return w.flushChunk()
	}
	return nil
}

func (w *Writer) flushChunk() error {
	if len(w.chunk) == 0 {
		return nil
	}

	blockFirstKey := w.chunk[0].Key
	encoded, err := encodeBlock(w.chunk)
	if err != nil {
		return err
	}

	n, err := w.blocks.Write(encoded)
	if err != nil {
		return ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to append block").WithSegmentID(w.id).WithOffset(int64(w.filePos))
	}

	if err := w.index.register(blockFirstKey, w.filePos, uint32(n)); err != nil {
		return err
	}

	w.filePos += uint64(n)
	w.blockCount++
	w.uncompressedSize += uint64(w.chunkSz)

	w.chunk = w.chunk[:0]
	w.chunkSz = 0
	return nil
}

// Finish flushes any partial chunk, finalizes the index and meta.json, and
// fsyncs everything in the required order. If zero items were ever written,
// the segment directory is deleted instead and nil, nil is returned.
func (w *Writer) Finish() (*Metadata, error) {
	if w.finished {
		return nil, ignerrors.NewSegmentError(nil, ignerrors.SegmentKindIO, "segment writer already finished").WithSegmentID(w.id)
	}
	w.finished = true

	if err := w.flushChunk(); err != nil {
		return nil, err
	}

	if w.itemCount == 0 {
		w.blocks.Close()
		w.index.discard()
		if err := filesys.DeleteDir(w.dir); err != nil {
			return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to delete empty segment directory").WithSegmentID(w.id).WithPath(w.dir)
		}
		return nil, nil
	}

	if err := w.blocks.Sync(); err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to fsync blocks file").WithSegmentID(w.id).WithPath(w.dir)
	}
	if err := w.blocks.Close(); err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to close blocks file").WithSegmentID(w.id)
	}

	if err := w.index.finalize(w.filePos); err != nil {
		return nil, err
	}

	if err := filesys.FsyncDir(w.dir); err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to fsync segment directory").WithSegmentID(w.id).WithPath(w.dir)
	}

	fi, err := os.Stat(filepath.Join(w.dir, "blocks"))
	if err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to stat finished blocks file").WithSegmentID(w.id)
	}

	meta := newMetadata(w.id, w.dir)
	meta.ItemCount = w.itemCount
	meta.BlockSize = w.opts.BlockSize
	meta.BlockCount = w.blockCount
	meta.FileSize = uint64(fi.Size())
	meta.UncompressedSize = w.uncompressedSize
	meta.KeyRange = KeyRange{Min: w.firstKey, Max: w.lastKey}
	meta.Seqnos = SeqNoRange{Lo: uint64(w.lowestSeqno), Hi: uint64(w.highestSeqno)}
	meta.TombstoneCount = w.tombstoneCount

	// meta.json is written and fsync'd last, then the directory fsync'd
	// again: a segment missing meta.json is treated as absent, so its
	// presence must imply everything before it is durable.
	if err := meta.WriteToFile(w.dir); err != nil {
		return nil, err
	}

	return meta, nil
}
