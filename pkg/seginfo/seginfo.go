// Package seginfo provides utilities for discovering on-disk LSM segment
// directories within a level's storage directory.
//
// Directory layout: each segment is its own subdirectory, named after its
// internal/segment.NewID() identifier, e.g.:
//
//	segments/users/0/a_1_f_0p_0qj4k2x_1f3n8q2/
//	  blocks
//	  index
//	  meta.json
//
// Segment IDs are constructed so that lexicographic ordering of the
// directory name matches creation order, which is what lets this package
// discover segments in creation order with a plain sort rather than
// reading every meta.json up front.
//
// A segment directory missing meta.json is considered absent: meta.json is
// written last, so such directories are the debris of a writer that
// crashed before Finish completed, and discovery skips them.
package seginfo

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/iamNilotpal/ignitekv/internal/segment"
	"github.com/iamNilotpal/ignitekv/pkg/filesys"
)

// metaFileName matches internal/segment's on-disk metadata file name. It is
// duplicated here (rather than imported) only as a literal, to keep this
// package's dependency on internal/segment limited to read-only discovery.
const metaFileName = "meta.json"

// DiscoverSegmentDirs scans levelDir for subdirectories that are complete
// segments (i.e. contain a meta.json) and returns their full paths sorted in
// ascending creation order. Directories without a meta.json — partially
// written segments left behind by a crash — are silently skipped, matching
// the "missing meta.json means absent" contract.
func DiscoverSegmentDirs(levelDir string) ([]string, error) {
	exists, err := filesys.Exists(levelDir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	entries, err := os.ReadDir(levelDir)
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		full := filepath.Join(levelDir, e.Name())
		if ok, err := IsCompleteSegmentDir(full); err != nil {
			return nil, err
		} else if ok {
			dirs = append(dirs, full)
		}
	}

	// Segment IDs are lexicographically sortable by creation time, so a
	// plain string sort over directory paths gives ascending creation
	// order without opening a single meta.json.
	slices.Sort(dirs)
	return dirs, nil
}

// IsCompleteSegmentDir reports whether dir contains a meta.json, i.e.
// whether its writer called Finish() successfully rather than being
// abandoned mid-write.
func IsCompleteSegmentDir(dir string) (bool, error) {
	return filesys.Exists(filepath.Join(dir, metaFileName))
}

// LoadSegmentMetadata is a convenience wrapper around
// internal/segment.ReadMetadata for callers that only have a directory path
// from DiscoverSegmentDirs and want the parsed record.
func LoadSegmentMetadata(dir string) (*segment.Metadata, error) {
	return segment.ReadMetadata(dir)
}
