package engine

import (
	"os"
	"path/filepath"

	"github.com/iamNilotpal/ignitekv/internal/journal"
	"github.com/iamNilotpal/ignitekv/internal/value"
	"github.com/iamNilotpal/ignitekv/pkg/seginfo"
)

// recover rebuilds every partition's on-disk level state from segmentsRoot,
// then replays the shared journal into each partition's active memtable,
// reseeding the shared seqno counter with the highest seqno it observes, so
// the next issued seqno is one past it and a reopened keyspace can never
// re-issue a recovered seqno.
// Called once, synchronously, before the background loops start.
func (ks *Keyspace) recover() error {
	highest, hasAny, err := ks.recoverSegmentsFromDisk()
	if err != nil {
		return err
	}

	journalHighest, journalHasAny, err := ks.replayJournal()
	if err != nil {
		return err
	}

	if journalHasAny && (!hasAny || journalHighest > highest) {
		highest = journalHighest
		hasAny = true
	}

	if hasAny {
		ks.seqno.Seed(highest)
	}
	return nil
}

// recoverSegmentsFromDisk walks segmentsRoot for partition directories left
// behind by a prior run, loading each level's completed segments (per
// pkg/seginfo's "missing meta.json means absent" contract) and registering
// their blocks files with the shared descriptor table.
func (ks *Keyspace) recoverSegmentsFromDisk() (highest value.SeqNo, found bool, err error) {
	entries, err := os.ReadDir(ks.segmentsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		p, err := ks.CreatePartition(e.Name())
		if err != nil {
			return 0, false, err
		}

		for level := 0; level < int(ks.opts.Levels); level++ {
			dirs, err := seginfo.DiscoverSegmentDirs(p.levelDir(level))
			if err != nil {
				return 0, false, err
			}

			for _, dir := range dirs {
				meta, err := seginfo.LoadSegmentMetadata(dir)
				if err != nil {
					return 0, false, err
				}
				// The directory on disk is the source of truth for where a
				// segment actually lives; a keyspace reopened from a moved
				// or copied data directory may carry a stale Path in an
				// already-written meta.json.
				meta.Path = dir

				ks.descriptors.Insert(filepath.Join(meta.Path, "blocks"), meta.ID)
				p.mu.Lock()
				p.levels[level] = append(p.levels[level], meta)
				p.mu.Unlock()

				if hi := value.SeqNo(meta.Seqnos.Hi); !found || hi > highest {
					highest = hi
					found = true
				}
			}
		}
	}
	return highest, found, nil
}

// replayJournal re-applies every record from every still-present journal
// segment, oldest first, directly into the named partition's active
// memtable — the records remaining in the journal are by construction the
// writes no flush has yet made durable as a segment.
func (ks *Keyspace) replayJournal() (highest value.SeqNo, found bool, err error) {
	for _, path := range ks.journal.Segments() {
		replayErr := journal.ReadAll(path, func(r journal.Record) error {
			p, err := ks.CreatePartition(r.Partition)
			if err != nil {
				return err
			}

			v := value.NewValue(r.Key, r.Value, r.SeqNo, r.Type)
			p.Insert(v)
			ks.writeBufferSize.Add(uint64(v.Size()))

			if !found || r.SeqNo > highest {
				highest = r.SeqNo
				found = true
			}
			return nil
		})
		if replayErr != nil {
			return 0, false, replayErr
		}
	}
	return highest, found, nil
}
