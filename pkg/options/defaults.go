package options

import "time"

const (
	// DefaultDataDir specifies the default base directory where a
	// keyspace stores its data files.
	DefaultDataDir = "/var/lib/ignitekv"

	// DefaultCompactInterval defines the default time duration between
	// compaction worker polls.
	DefaultCompactInterval = time.Minute * 5

	// MinBlockSize is the minimum allowed block size, in bytes (1 KiB).
	MinBlockSize uint32 = 1024

	// DefaultBlockSize is the default target uncompressed block size, in
	// bytes (4 KiB).
	DefaultBlockSize uint32 = 4096

	// DefaultBlockCacheSize is the default block cache capacity in blocks.
	DefaultBlockCacheSize uint32 = 1024

	// DefaultDescriptorTableLimit is the default budget of open segment
	// file handles shared across all reader goroutines, kept comfortably
	// below typical process ulimits.
	DefaultDescriptorTableLimit uint32 = 960

	// DefaultMaxMemtableSize is the default memtable rotation threshold,
	// in bytes (64 MiB).
	DefaultMaxMemtableSize uint32 = 64 * 1024 * 1024

	// DefaultLevels is the default number of levels per partition's LSM
	// tree.
	DefaultLevels uint8 = 7

	// DefaultFlushThreads is the default size of the flush worker pool.
	DefaultFlushThreads uint8 = 4

	// MinSegmentSize represents the minimum allowed target size for a
	// segment's blocks file in bytes (512 MiB).
	MinSegmentSize uint64 = 512 * 1024 * 1024

	// MaxSegmentSize represents the maximum allowed target size for a
	// segment's blocks file in bytes (4 GiB).
	MaxSegmentSize uint64 = 4 * 1024 * 1024 * 1024

	// DefaultSegmentTargetSize specifies the default target size for a
	// segment's blocks file in bytes (1 GiB).
	DefaultSegmentTargetSize uint64 = 1 * 1024 * 1024 * 1024

	// DefaultSegmentDirectory specifies the default subdirectory, relative
	// to DataDir, where segment directories are created.
	DefaultSegmentDirectory = "segments"

	// DefaultMaxJournalingSizeBytes is the default shared journal-footprint
	// threshold in bytes (512 MiB).
	DefaultMaxJournalingSizeBytes uint64 = 512 * 1024 * 1024

	// DefaultMaxWriteBufferSizeBytes is the default shared write-buffer
	// threshold in bytes (64 MiB).
	DefaultMaxWriteBufferSizeBytes uint64 = 64 * 1024 * 1024
)

// defaultOptions holds the default configuration settings for a Keyspace.
var defaultOptions = Options{
	DataDir:                 DefaultDataDir,
	CompactInterval:         DefaultCompactInterval,
	BlockCacheSize:          DefaultBlockCacheSize,
	DescriptorTableLimit:    DefaultDescriptorTableLimit,
	MaxMemtableSize:         DefaultMaxMemtableSize,
	Levels:                  DefaultLevels,
	FlushThreads:            DefaultFlushThreads,
	CompactionStrategy:      CompactionStrategySizeTiered,
	MaxJournalingSizeBytes:  DefaultMaxJournalingSizeBytes,
	MaxWriteBufferSizeBytes: DefaultMaxWriteBufferSizeBytes,
	SegmentOptions: &segmentOptions{
		BlockSize:  DefaultBlockSize,
		TargetSize: DefaultSegmentTargetSize,
		Directory:  DefaultSegmentDirectory,
	},
}

// NewDefaultOptions returns a copy of the default Keyspace configuration.
func NewDefaultOptions() Options {
	opts := defaultOptions
	segCopy := *defaultOptions.SegmentOptions
	opts.SegmentOptions = &segCopy
	return opts
}
