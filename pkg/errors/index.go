package errors

// IndexError provides specialized error handling for a segment's block
// index: the per-segment file mapping each block's first key to its
// (file_offset, compressed_size) location in the blocks file. It extends
// the base error system with index-specific context while properly
// supporting method chaining through all base error methods.
type IndexError struct {
	// Embed the base error to inherit all standard error functionality
	// including error chaining, structured details, and error codes.
	*baseError

	// Indicates which segment's block index was involved in the error.
	// This helps correlate index errors with specific segment directories
	// and can guide recovery or compaction decisions.
	segmentID string

	// The on-disk path of the index file that caused the issue.
	path string

	// Describes what index operation was being performed when the error
	// occurred (e.g., "Register", "Finalize", "Load"). This context helps
	// understand the system state that led to the error.
	operation string

	// Captures how many index entries had been written or parsed when the
	// error occurred. For a load failure this is the count of entries
	// successfully decoded before the truncation or corruption was hit.
	entryCount int
}

// NewIndexError creates a new index-specific error with the provided context.
// This constructor follows the same pattern as other error types in the system,
// taking a causing error, error code, and descriptive message.
func NewIndexError(err error, code ErrorCode, msg string) *IndexError {
	return &IndexError{
		baseError: NewBaseError(err, code, msg),
	}
}

// Override base error methods to return *IndexError instead of *baseError.

// WithMessage updates the error message while maintaining the IndexError type.
func (ie *IndexError) WithMessage(msg string) *IndexError {
	ie.baseError.WithMessage(msg)
	return ie
}

// WithCode sets the error code while preserving the IndexError type.
func (ie *IndexError) WithCode(code ErrorCode) *IndexError {
	ie.baseError.WithCode(code)
	return ie
}

// WithDetail adds contextual information while maintaining the IndexError type.
func (ie *IndexError) WithDetail(key string, value any) *IndexError {
	ie.baseError.WithDetail(key, value)
	return ie
}

// Index-specific methods that add domain-specific context to the error.

// WithSegmentID captures which segment's block index was involved in the
// error. This provides a direct link between index errors and the
// underlying segment, facilitating cross-layer debugging.
func (ie *IndexError) WithSegmentID(segmentID string) *IndexError {
	ie.segmentID = segmentID
	return ie
}

// WithPath records the on-disk path of the index file.
func (ie *IndexError) WithPath(path string) *IndexError {
	ie.path = path
	return ie
}

// WithOperation records what index operation was being performed.
func (ie *IndexError) WithOperation(operation string) *IndexError {
	ie.operation = operation
	return ie
}

// WithEntryCount captures how many index entries had been written or
// parsed when the error occurred.
func (ie *IndexError) WithEntryCount(count int) *IndexError {
	ie.entryCount = count
	return ie
}

// Getter methods provide access to the IndexError-specific context.

// SegmentID returns the segment identifier associated with the error.
func (ie *IndexError) SegmentID() string {
	return ie.segmentID
}

// Path returns the on-disk path of the index file.
func (ie *IndexError) Path() string {
	return ie.path
}

// Operation returns the name of the operation that was being performed.
func (ie *IndexError) Operation() string {
	return ie.operation
}

// EntryCount returns how many entries had been processed when the error
// occurred.
func (ie *IndexError) EntryCount() int {
	return ie.entryCount
}

// Helper functions for creating common index errors with appropriate context.

// NewIndexWriteError creates an error for failures appending or finalizing
// block-index entries while a segment is being written.
func NewIndexWriteError(cause error, operation, path string, entryCount int) *IndexError {
	return NewIndexError(cause, ErrorCodeIndexWriteFailure, "failed to write block index entry").
		WithOperation(operation).
		WithPath(path).
		WithEntryCount(entryCount)
}

// NewIndexCorruptionError creates an error for a block index whose on-disk
// bytes cannot be parsed back into entries — a truncated entry, a missing
// sentinel, or garbage where an entry header should be.
func NewIndexCorruptionError(cause error, path string, entryCount int) *IndexError {
	return NewIndexError(cause, ErrorCodeIndexCorrupted, "block index corrupted").
		WithOperation("Load").
		WithPath(path).
		WithEntryCount(entryCount).
		WithDetail("recovery_required", true)
}
