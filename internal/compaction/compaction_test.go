package compaction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeManifest struct {
	levels [][]SegmentInfo
}

func (m fakeManifest) LevelCount() int { return len(m.levels) }
func (m fakeManifest) Segments(level int) []SegmentInfo {
	if level < 0 || level >= len(m.levels) {
		return nil
	}
	return m.levels[level]
}

func segments(n int) []SegmentInfo {
	out := make([]SegmentInfo, n)
	for i := range out {
		out[i] = SegmentInfo{ID: fmt.Sprintf("seg-%d", i), FileSize: 1024, ItemCount: 10}
	}
	return out
}

func TestSizeTieredNoPlanUnderThreshold(t *testing.T) {
	s := NewSizeTiered(4)
	manifest := fakeManifest{levels: [][]SegmentInfo{segments(4), nil, nil}}
	require.Nil(t, s.Choose(manifest))
}

func TestSizeTieredCompactsFullLevelDown(t *testing.T) {
	s := NewSizeTiered(4)
	manifest := fakeManifest{levels: [][]SegmentInfo{segments(5), nil, nil}}

	plan := s.Choose(manifest)
	require.NotNil(t, plan)
	require.Equal(t, 0, plan.SourceLevel)
	require.Equal(t, 1, plan.DestLevel)
	require.Len(t, plan.SegmentIDs, 5)
	require.False(t, plan.EvictTombstones)
}

func TestSizeTieredEvictsTombstonesIntoDeepestLevel(t *testing.T) {
	s := NewSizeTiered(2)
	manifest := fakeManifest{levels: [][]SegmentInfo{nil, segments(3), nil}}

	plan := s.Choose(manifest)
	require.NotNil(t, plan)
	require.Equal(t, 1, plan.SourceLevel)
	require.Equal(t, 2, plan.DestLevel)
	require.True(t, plan.EvictTombstones)
}

func TestSizeTieredNeverCompactsDeepestLevel(t *testing.T) {
	s := NewSizeTiered(2)
	manifest := fakeManifest{levels: [][]SegmentInfo{nil, nil, segments(10)}}
	require.Nil(t, s.Choose(manifest))
}
