package segment

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
)

// indexEntry records a block's first key and its location in the blocks file.
type indexEntry struct {
	firstKey []byte
	offset   uint64
	size     uint32
}

// indexWriter appends index entries to a segment's index file as blocks are
// written, and writes a sentinel final entry recording the blocks file's end
// offset when the segment is finished.
type indexWriter struct {
	f    *os.File
	w    *bufio.Writer
	path string
	len  int
}

func newIndexWriter(path string) (*indexWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, ignerrors.NewIndexWriteError(err, "Create", path, 0)
	}
	return &indexWriter{f: f, w: bufio.NewWriter(f), path: path}, nil
}

func (iw *indexWriter) register(firstKey []byte, offset uint64, size uint32) error {
	if err := writeIndexEntry(iw.w, firstKey, offset, size); err != nil {
		return ignerrors.NewIndexWriteError(err, "Register", iw.path, iw.len)
	}
	iw.len++
	return nil
}

// finalize writes a sentinel entry whose offset is the end of the blocks
// file (an empty key marks it as the sentinel, per the convention that a
// real first_key is never empty for a non-empty block), flushes, and
// fsyncs the index file.
func (iw *indexWriter) finalize(endOffset uint64) error {
	if err := writeIndexEntry(iw.w, nil, endOffset, 0); err != nil {
		return ignerrors.NewIndexWriteError(err, "Finalize", iw.path, iw.len)
	}
	if err := iw.w.Flush(); err != nil {
		return ignerrors.NewIndexWriteError(err, "Finalize", iw.path, iw.len)
	}
	if err := iw.f.Sync(); err != nil {
		return ignerrors.NewIndexWriteError(err, "Finalize", iw.path, iw.len)
	}
	return iw.f.Close()
}

func (iw *indexWriter) discard() error {
	return iw.f.Close()
}

// writeIndexEntry serializes one entry as
// [u16 key_len][key][u64 file_offset][u32 compressed_size].
func writeIndexEntry(w io.Writer, key []byte, offset uint64, size uint32) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(key) > 0 {
		if _, err := w.Write(key); err != nil {
			return err
		}
	}
	var tail [8 + 4]byte
	binary.BigEndian.PutUint64(tail[0:8], offset)
	binary.BigEndian.PutUint32(tail[8:12], size)
	_, err := w.Write(tail[:])
	return err
}

// readIndexEntries parses a finished index file back into its entries,
// including the trailing sentinel.
func readIndexEntries(path string) ([]indexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []indexEntry
	off := 0
	for off < len(data) {
		if len(data)-off < 2 {
			return nil, ignerrors.NewIndexCorruptionError(io.ErrUnexpectedEOF, path, len(entries))
		}
		keyLen := int(binary.BigEndian.Uint16(data[off : off+2]))
		off += 2
		if len(data)-off < keyLen+12 {
			return nil, ignerrors.NewIndexCorruptionError(io.ErrUnexpectedEOF, path, len(entries))
		}
		var key []byte
		if keyLen > 0 {
			key = append([]byte(nil), data[off:off+keyLen]...)
			off += keyLen
		}
		offset := binary.BigEndian.Uint64(data[off : off+8])
		size := binary.BigEndian.Uint32(data[off+8 : off+12])
		off += 12
		entries = append(entries, indexEntry{firstKey: key, offset: offset, size: size})
	}
	return entries, nil
}
