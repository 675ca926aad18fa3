package segment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/iamNilotpal/ignitekv/pkg/filesys"

	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
)

// KeyRange is the inclusive [min, max] user-key bound of a segment.
type KeyRange struct {
	Min []byte `json:"min"`
	Max []byte `json:"max"`
}

// SeqNoRange is the inclusive [lo, hi] seqno bound of a segment.
type SeqNoRange struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// Metadata is the segment metadata record persisted as meta.json. Field
// names and the set of fields match the contract exactly: id, path,
// created_at_micros, item_count, block_size, block_count, file_size,
// uncompressed_size, key_range, seqnos, tombstone_count, is_compressed,
// bloom_filter_size.
type Metadata struct {
	ID               string     `json:"id"`
	Path             string     `json:"path"`
	CreatedAtMicros  int64      `json:"created_at_micros"`
	ItemCount        uint64     `json:"item_count"`
	BlockSize        uint32     `json:"block_size"`
	BlockCount       uint64     `json:"block_count"`
	FileSize         uint64     `json:"file_size"`
	UncompressedSize uint64     `json:"uncompressed_size"`
	KeyRange         KeyRange   `json:"key_range"`
	Seqnos           SeqNoRange `json:"seqnos"`
	TombstoneCount   uint64     `json:"tombstone_count"`
	IsCompressed     bool       `json:"is_compressed"`
	BloomFilterSize  *uint64    `json:"bloom_filter_size,omitempty"`
}

// newMetadata stamps CreatedAtMicros from the current time; callers fill in
// the remaining accounting fields as the writer finishes.
func newMetadata(id, path string) *Metadata {
	return &Metadata{
		ID:              id,
		Path:            path,
		IsCompressed:    true,
		CreatedAtMicros: time.Now().UnixMicro(),
	}
}

// WriteToFile serializes the metadata as pretty-printed JSON to meta.json
// inside the segment directory, fsyncs the file, then fsyncs the containing
// directory. A segment missing meta.json is considered absent, so meta.json
// must be the last thing written and the directory entry for it must be
// durable too.
func (m *Metadata) WriteToFile(dir string) error {
	path := filepath.Join(dir, "meta.json")
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ignerrors.NewSegmentError(err, ignerrors.SegmentKindSerialize, "failed to marshal segment metadata").
			WithSegmentID(m.ID).WithPath(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to create meta.json").
			WithSegmentID(m.ID).WithPath(path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to write meta.json").
			WithSegmentID(m.ID).WithPath(path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to fsync meta.json").
			WithSegmentID(m.ID).WithPath(path)
	}
	if err := f.Close(); err != nil {
		return ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to close meta.json").
			WithSegmentID(m.ID).WithPath(path)
	}

	if err := filesys.FsyncDir(dir); err != nil {
		return ignerrors.NewSegmentError(err, ignerrors.SegmentKindIO, "failed to fsync segment directory").
			WithSegmentID(m.ID).WithPath(dir)
	}
	return nil
}

// ReadMetadata loads and validates a segment's meta.json. A missing
// meta.json is reported through the plain os.IsNotExist path so callers can
// treat it as "segment absent".
func ReadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, "meta.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ignerrors.NewSegmentError(err, ignerrors.SegmentKindDeserialize, "failed to parse meta.json").
			WithPath(path)
	}
	return &m, nil
}
