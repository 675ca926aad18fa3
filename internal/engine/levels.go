package engine

import (
	"github.com/iamNilotpal/ignitekv/internal/compaction"
)

// levelManifest adapts a Partition's level structure to the read-only view
// internal/compaction.Strategy consumes, keeping the compaction package
// independent of internal/engine's concrete types.
type levelManifest struct {
	partition *Partition
}

func (m levelManifest) LevelCount() int {
	m.partition.mu.RLock()
	defer m.partition.mu.RUnlock()
	return len(m.partition.levels)
}

func (m levelManifest) Segments(level int) []compaction.SegmentInfo {
	m.partition.mu.RLock()
	defer m.partition.mu.RUnlock()

	if level < 0 || level >= len(m.partition.levels) {
		return nil
	}
	segs := m.partition.levels[level]
	out := make([]compaction.SegmentInfo, len(segs))
	for i, s := range segs {
		out[i] = compaction.FromMetadata(s)
	}
	return out
}
