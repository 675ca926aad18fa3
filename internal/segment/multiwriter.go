package segment

import "github.com/iamNilotpal/ignitekv/internal/value"

// MultiWriterOptions configures a MultiWriter.
type MultiWriterOptions struct {
	Writer     WriterOptions
	TargetSize uint64 // rotate to a fresh Writer once file_pos >= TargetSize
}

// MultiWriter wraps Writer, rotating to a fresh segment once the current
// one's blocks file grows past TargetSize, producing a sorted "run" of
// segments.
type MultiWriter struct {
	parentDir string
	opts      MultiWriterOptions
	current   *Writer
	results   []*Metadata
}

// NewMultiWriter opens the first underlying Writer.
func NewMultiWriter(parentDir string, opts MultiWriterOptions) (*MultiWriter, error) {
	w, err := NewWriter(parentDir, opts.Writer)
	if err != nil {
		return nil, err
	}
	return &MultiWriter{parentDir: parentDir, opts: opts, current: w}, nil
}

// Write appends one Value, rotating to a new segment first if the current
// one has already crossed TargetSize.
func (mw *MultiWriter) Write(v value.Value) error {
	if mw.current.FilePos() >= mw.opts.TargetSize {
		if err := mw.rotate(); err != nil {
			return err
		}
	}
	return mw.current.Write(v)
}

func (mw *MultiWriter) rotate() error {
	meta, err := mw.current.Finish()
	if err != nil {
		return err
	}
	if meta != nil {
		mw.results = append(mw.results, meta)
	}

	w, err := NewWriter(mw.parentDir, mw.opts.Writer)
	if err != nil {
		return err
	}
	mw.current = w
	return nil
}

// Finish finalizes the last writer and returns every segment Metadata
// produced. If the final writer wrote zero items, it is dropped rather than
// recorded, matching the single-Writer Finish() empty-segment behavior.
func (mw *MultiWriter) Finish() ([]*Metadata, error) {
	meta, err := mw.current.Finish()
	if err != nil {
		return nil, err
	}
	if meta != nil {
		mw.results = append(mw.results, meta)
	}
	return mw.results, nil
}
