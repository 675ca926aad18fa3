package errors

import cockroacherr "github.com/cockroachdb/errors"

// SegmentKind narrows a SegmentError down to the phase of segment handling
// that failed, mirroring the Io/Serialize/Deserialize/Decompress taxonomy
// used by the on-disk format this package reads and writes.
type SegmentKind string

const (
	SegmentKindIO          SegmentKind = "IO"
	SegmentKindSerialize   SegmentKind = "SERIALIZE"
	SegmentKindDeserialize SegmentKind = "DESERIALIZE"
	SegmentKindDecompress  SegmentKind = "DECOMPRESS"
	SegmentKindCorrupt     SegmentKind = "CORRUPT"
)

// SegmentError is the typed error taxonomy for the segment reader/writer. It
// embeds baseError for the fluent WithXxx chain the rest of the package
// uses, and wraps its cause through cockroachdb/errors so that
// errors.Is/As and stack-trace-carrying causes from third-party I/O and
// compression failures survive the chain intact.
type SegmentError struct {
	*baseError
	kind      SegmentKind
	segmentID string
	path      string
	offset    int64
}

// NewSegmentError creates a new segment-layer error, wrapping cause through
// cockroachdb/errors so a stack trace is attached the first time it's seen.
func NewSegmentError(cause error, kind SegmentKind, msg string) *SegmentError {
	wrapped := cause
	if wrapped != nil {
		wrapped = cockroacherr.Wrap(cause, msg)
	}
	return &SegmentError{
		baseError: NewBaseError(wrapped, ErrorCodeSegmentCorrupted, msg),
		kind:      kind,
	}
}

// WithSegmentID records which segment was being handled when the error occurred.
func (se *SegmentError) WithSegmentID(id string) *SegmentError {
	se.segmentID = id
	return se
}

// WithPath records the on-disk path associated with the error.
func (se *SegmentError) WithPath(path string) *SegmentError {
	se.path = path
	return se
}

// WithOffset records the byte offset within the blocks file where the error
// occurred, when known.
func (se *SegmentError) WithOffset(offset int64) *SegmentError {
	se.offset = offset
	return se
}

// Kind reports which phase of segment handling failed.
func (se *SegmentError) Kind() SegmentKind { return se.kind }

// SegmentID returns the segment this error pertains to.
func (se *SegmentError) SegmentID() string { return se.segmentID }

// Path returns the on-disk path associated with the error.
func (se *SegmentError) Path() string { return se.path }

// Offset returns the byte offset within the blocks file, if known.
func (se *SegmentError) Offset() int64 { return se.offset }
