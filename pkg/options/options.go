// Package options provides data structures and functions for configuring a
// Keyspace. It defines the parameters that control the engine's storage
// layout, write-path thresholds, and maintenance behavior: data directory,
// block format, memtable/journal/write-buffer budgets, level count, flush
// concurrency, and compaction strategy selection.
package options

import (
	"strings"
	"time"
)

// CompactionStrategyKind names a registered internal/compaction.Strategy
// implementation by string, so options stays independent of the
// compaction package and keeps the functional-options surface serializable.
type CompactionStrategyKind string

const (
	// CompactionStrategySizeTiered merges all of a level's segments into
	// the next level once the level holds more than a threshold count of
	// segments; the default strategy.
	CompactionStrategySizeTiered CompactionStrategyKind = "size-tiered"

	// CompactionStrategyLeveled names a leveled strategy. The keyspace has
	// no leveled implementation: selecting it runs the size-tiered
	// strategy and logs a warning.
	CompactionStrategyLeveled CompactionStrategyKind = "leveled"
)

// segmentOptions defines configurable parameters for each on-disk segment.
// It provides fine-grained control over block size, rotation size, and
// where segment directories live.
type segmentOptions struct {
	// BlockSize is the target uncompressed size, in bytes, of a single
	// data block before it is flushed, compressed, and appended to the
	// blocks file.
	//
	//  - Default: 4096
	//  - Minimum: 1024
	BlockSize uint32 `json:"blockSize"`

	// TargetSize is the size a segment's blocks file must reach before
	// MultiWriter rotates to a fresh segment during compaction; flush
	// writes each memtable into a single segment regardless of this size.
	//
	//  - Default: 1GB
	//  - Maximum: 4GB
	//  - Minimum: 512MB
	TargetSize uint64 `json:"targetSize"`

	// Directory is where segment directories are created, relative to
	// DataDir.
	//
	// Default: "segments"
	Directory string `json:"directory"`
}

// Options defines the configuration parameters for a Keyspace. It provides
// control over storage layout, write-path backpressure thresholds, and
// maintenance behavior.
type Options struct {
	// DataDir is the base path where the keyspace's journal, segment
	// directories, and metadata are stored.
	//
	// Default: "/var/lib/ignitekv"
	DataDir string `json:"dataDir"`

	// BlockCacheSize is the capacity, in blocks, of the shared block cache
	// consulted by segment reads. The cache implementation itself is an
	// external collaborator; this option only bounds it.
	//
	// Default: 1024
	BlockCacheSize uint32 `json:"blockCacheSize"`

	// DescriptorTableLimit is the total budget of open segment file
	// handles shared across all reader goroutines; the descriptor table
	// evicts least-recently-used segments' handle pools past it.
	//
	// Default: 960
	DescriptorTableLimit uint32 `json:"descriptorTableLimit"`

	// MaxMemtableSize is the approximate-size threshold, in bytes, past
	// which a partition's active memtable is a rotation candidate.
	//
	// Default: 64 MiB
	MaxMemtableSize uint32 `json:"maxMemtableSize"`

	// Levels is the number of levels in each partition's LSM tree.
	//
	// Default: 7
	Levels uint8 `json:"levels"`

	// FlushThreads bounds the number of concurrent flush workers draining
	// the immutable-memtable queue across all partitions in the keyspace.
	//
	// Default: 4
	FlushThreads uint8 `json:"flushThreads"`

	// CompactionStrategy selects which compaction.Strategy implementation
	// the keyspace's compaction worker uses.
	//
	// Default: CompactionStrategySizeTiered
	CompactionStrategy CompactionStrategyKind `json:"compactionStrategy"`

	// MaxJournalingSizeBytes is the total on-disk footprint, across all
	// partitions' journal segments, past 50% of which the monitor starts
	// rotating memtables pinning the oldest journal segment.
	//
	// Default: 512 MiB
	MaxJournalingSizeBytes uint64 `json:"maxJournalingSizeInBytes"`

	// MaxWriteBufferSizeBytes is the total active-memtable footprint,
	// across all partitions, past 50% of which the monitor starts rotating
	// the largest unqueued partition.
	//
	// Default: 64 MiB
	MaxWriteBufferSizeBytes uint64 `json:"maxWriteBufferSizeInBytes"`

	// CompactInterval is how often the keyspace's compaction worker polls
	// the compaction strategy for a new plan.
	//
	// Default: 5m
	CompactInterval time.Duration `json:"compactInterval"`

	// SegmentOptions configures block size, segment target size, and the
	// segment subdirectory layout.
	SegmentOptions *segmentOptions `json:"segmentOptions"`
}

// OptionFunc is a function type that modifies a Keyspace's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions resets every field to its documented default.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the primary data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithCompactInterval sets the interval at which the compaction worker
// polls the compaction strategy for new plans.
func WithCompactInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CompactInterval = interval
		}
	}
}

// WithSegmentDir sets the subdirectory (relative to DataDir) segment
// directories are created under.
func WithSegmentDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.SegmentOptions.Directory = directory
		}
	}
}

// WithBlockSize sets the target uncompressed block size. Panics if smaller
// than 1024 bytes, matching the block-size invariant the segment writer
// relies on.
func WithBlockSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size < MinBlockSize {
			panic("options: block size must be >= 1024 bytes")
		}
		o.SegmentOptions.BlockSize = size
	}
}

// WithSegmentTargetSize sets the target size a segment's blocks file must
// reach before MultiWriter rotates to a new segment.
func WithSegmentTargetSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinSegmentSize && size <= MaxSegmentSize {
			o.SegmentOptions.TargetSize = size
		}
	}
}

// WithBlockCacheSize sets the block cache capacity in number of blocks.
func WithBlockCacheSize(blocks uint32) OptionFunc {
	return func(o *Options) {
		o.BlockCacheSize = blocks
	}
}

// WithDescriptorTableLimit sets the open-file-handle budget of the shared
// descriptor table. Panics if limit is 0.
func WithDescriptorTableLimit(limit uint32) OptionFunc {
	return func(o *Options) {
		if limit == 0 {
			panic("options: descriptor table limit must be > 0")
		}
		o.DescriptorTableLimit = limit
	}
}

// WithMaxMemtableSize sets the memtable rotation-candidate size threshold.
func WithMaxMemtableSize(bytes uint32) OptionFunc {
	return func(o *Options) {
		o.MaxMemtableSize = bytes
	}
}

// WithLevels sets the number of levels per partition's LSM tree. Panics if
// count is 0.
func WithLevels(count uint8) OptionFunc {
	return func(o *Options) {
		if count == 0 {
			panic("options: level count must be > 0")
		}
		o.Levels = count
	}
}

// WithFlushThreads sets the flush worker pool size. Panics if count is 0.
func WithFlushThreads(count uint8) OptionFunc {
	return func(o *Options) {
		if count == 0 {
			panic("options: flush thread count must be > 0")
		}
		o.FlushThreads = count
	}
}

// WithCompactionStrategy selects the compaction strategy by name.
func WithCompactionStrategy(kind CompactionStrategyKind) OptionFunc {
	return func(o *Options) {
		o.CompactionStrategy = kind
	}
}

// WithMaxJournalingSizeBytes sets the shared journal-footprint threshold.
func WithMaxJournalingSizeBytes(bytes uint64) OptionFunc {
	return func(o *Options) {
		o.MaxJournalingSizeBytes = bytes
	}
}

// WithMaxWriteBufferSizeBytes sets the shared write-buffer threshold.
func WithMaxWriteBufferSizeBytes(bytes uint64) OptionFunc {
	return func(o *Options) {
		o.MaxWriteBufferSizeBytes = bytes
	}
}
