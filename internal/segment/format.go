package segment

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pierrec/lz4/v4"

	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

// blocksFileVersion is the single version byte written at the start of every
// blocks file, ahead of the first block.
const blocksFileVersion byte = 1

// encodeValue serializes a single Value in the on-disk layout:
// [u64 seqno][u8 value_type][u16 key_len][key][u32 value_len][value].
func encodeValue(buf *bytes.Buffer, v value.Value) {
	var hdr [8 + 1 + 2]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(v.SeqNo))
	hdr[8] = byte(v.Type)
	binary.BigEndian.PutUint16(hdr[9:11], uint16(len(v.Key)))
	buf.Write(hdr[:])
	buf.Write(v.Key)

	var vlen [4]byte
	binary.BigEndian.PutUint32(vlen[:], uint32(len(v.UserValue)))
	buf.Write(vlen[:])
	buf.Write(v.UserValue)
}

// decodeValue reads a single Value from buf, returning the number of bytes
// consumed.
func decodeValue(buf []byte) (value.Value, int, error) {
	if len(buf) < 8+1+2 {
		return value.Value{}, 0, io.ErrUnexpectedEOF
	}
	seqno := value.SeqNo(binary.BigEndian.Uint64(buf[0:8]))
	vtype := value.ValueType(buf[8])
	keyLen := int(binary.BigEndian.Uint16(buf[9:11]))
	off := 11
	if len(buf) < off+keyLen+4 {
		return value.Value{}, 0, io.ErrUnexpectedEOF
	}
	key := append([]byte(nil), buf[off:off+keyLen]...)
	off += keyLen

	valLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	if len(buf) < off+valLen {
		return value.Value{}, 0, io.ErrUnexpectedEOF
	}
	val := append([]byte(nil), buf[off:off+valLen]...)
	off += valLen

	return value.NewValue(key, val, seqno, vtype), off, nil
}

// encodeBlock packs a sequence of Values into the uncompressed block layout:
// [u32 item_count][Value]*[u32 CRC32 of items], then LZ4-compresses the
// whole thing with a u32 length prefix, matching the format a Reader
// expects to find at a block's recorded (offset, compressed_size).
func encodeBlock(items []value.Value) ([]byte, error) {
	var body bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(items)))
	body.Write(countBuf[:])

	for _, it := range items {
		encodeValue(&body, it)
	}

	crc := crc32.ChecksumIEEE(body.Bytes()[4:])
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	body.Write(crcBuf[:])

	uncompressed := body.Bytes()
	compressed := make([]byte, lz4.CompressBlockBound(len(uncompressed)))

	var c lz4.Compressor
	n, err := c.CompressBlock(uncompressed, compressed)
	if err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindSerialize, "failed to lz4-compress block")
	}
	if n == 0 {
		// Incompressible input: lz4 signals this by returning 0; store the
		// raw bytes instead, so the stored length equals the uncompressed
		// length, which is how decodeBlock recognizes a raw body.
		compressed = uncompressed
		n = len(uncompressed)
	}

	var out bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(uncompressed)))
	out.Write(lenBuf[:])
	out.Write(compressed[:n])
	return out.Bytes(), nil
}

// decodeBlock reverses encodeBlock given the raw compressed bytes (without
// the leading u32 uncompressed-length prefix, which the caller has already
// consumed to size the destination buffer).
func decodeBlock(compressed []byte, uncompressedLen int) ([]value.Value, error) {
	var uncompressed []byte
	if len(compressed) == uncompressedLen {
		// encodeBlock stored the body unmodified when lz4 reported it as
		// incompressible (CompressBlock returns n == 0 in that case); the
		// equal lengths are how the reader tells the two cases apart,
		// since the format has no separate stored/compressed flag bit.
		uncompressed = compressed
	} else {
		uncompressed = make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(compressed, uncompressed)
		if err != nil || n != uncompressedLen {
			return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindDecompress, "failed to lz4-decompress block")
		}
	}

	if len(uncompressed) < 4 {
		return nil, ignerrors.NewSegmentError(io.ErrUnexpectedEOF, ignerrors.SegmentKindDeserialize, "block too short")
	}
	itemCount := binary.BigEndian.Uint32(uncompressed[0:4])
	body := uncompressed[4 : len(uncompressed)-4]
	storedCRC := binary.BigEndian.Uint32(uncompressed[len(uncompressed)-4:])

	if crc32.ChecksumIEEE(body) != storedCRC {
		return nil, ignerrors.NewSegmentError(nil, ignerrors.SegmentKindCorrupt, "block CRC32 mismatch")
	}

	items := make([]value.Value, 0, itemCount)
	off := 0
	for i := uint32(0); i < itemCount; i++ {
		v, n, err := decodeValue(body[off:])
		if err != nil {
			return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindDeserialize, "failed to decode item")
		}
		items = append(items, v)
		off += n
	}
	return items, nil
}
