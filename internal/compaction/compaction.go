// Package compaction defines the polymorphic compaction-strategy interface
// consumed by the keyspace's compaction worker, plus one concrete,
// size-tiered implementation. Strategy depth — overlap-aware merging,
// tombstone-lifetime analysis, write-amplification tuning — deliberately
// lives behind the Strategy interface so richer policies can be added
// without touching the engine.
package compaction

import "github.com/iamNilotpal/ignitekv/internal/segment"

// SegmentInfo is the subset of segment.Metadata a compaction strategy reads
// to make a decision, kept separate from segment.Metadata so strategies
// don't need to import the writer/reader machinery.
type SegmentInfo struct {
	ID        string
	FileSize  uint64
	ItemCount uint64
}

// FromMetadata adapts a segment.Metadata into the compaction-facing view.
func FromMetadata(m *segment.Metadata) SegmentInfo {
	return SegmentInfo{ID: m.ID, FileSize: m.FileSize, ItemCount: m.ItemCount}
}

// LevelManifest is the read-only view of a partition's level structure a
// Strategy inspects to choose a compaction plan. Level 0 may contain
// overlapping segments (freshly flushed runs); deeper levels are assumed
// non-overlapping, sorted runs.
type LevelManifest interface {
	// LevelCount returns the number of levels in this manifest.
	LevelCount() int
	// Segments returns the segments currently resident in level, in
	// insertion order.
	Segments(level int) []SegmentInfo
}

// Plan is a compaction strategy's chosen unit of work: merge the named
// segments of SourceLevel into DestLevel, producing one or more new
// segments there and removing the sources on success.
type Plan struct {
	SourceLevel     int
	DestLevel       int
	SegmentIDs      []string
	EvictTombstones bool
}

// Strategy is the capability every compaction policy implements: given the
// current level state, decide what to compact next (or that nothing needs
// to happen).
type Strategy interface {
	Choose(manifest LevelManifest) *Plan
}

// SizeTiered is a minimal size-tiered strategy: once a level accumulates
// more than MinRunCount segments, it compacts all of them down into the
// next level. It is the default strategy and deliberately does not
// implement overlap-aware partial compaction, amplification-ratio tuning,
// or cross-level cascades.
type SizeTiered struct {
	// MinRunCount is the number of segments a level must accumulate before
	// a compaction plan is produced for it.
	MinRunCount int
}

// NewSizeTiered creates a SizeTiered strategy with the given trigger
// threshold. minRunCount <= 0 defaults to 4, matching RocksDB/fjall-style
// defaults for L0 file count before compaction kicks in.
func NewSizeTiered(minRunCount int) *SizeTiered {
	if minRunCount <= 0 {
		minRunCount = 4
	}
	return &SizeTiered{MinRunCount: minRunCount}
}

// Choose scans levels from shallowest to deepest and returns a plan for the
// first level whose segment count exceeds MinRunCount. Tombstones are
// evicted only when compacting into the deepest level, where no older
// version of a deleted key can possibly still be hidden beneath it.
func (s *SizeTiered) Choose(manifest LevelManifest) *Plan {
	levels := manifest.LevelCount()
	for level := 0; level < levels-1; level++ {
		segments := manifest.Segments(level)
		if len(segments) <= s.MinRunCount {
			continue
		}

		ids := make([]string, len(segments))
		for i, seg := range segments {
			ids[i] = seg.ID
		}

		destLevel := level + 1
		return &Plan{
			SourceLevel:     level,
			DestLevel:       destLevel,
			SegmentIDs:      ids,
			EvictTombstones: destLevel == levels-1,
		}
	}
	return nil
}
