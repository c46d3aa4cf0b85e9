// Package snapshot persists the last-observed tag state keyed by
// logical path (spec.md §4.D), enabling the three-way diff in §4.E.
// Saves are atomic: same-directory temp file, fsync, rename, so a
// crash during save leaves either the prior or the new snapshot
// intact (invariant I2 / property P4).
package snapshot

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// schemaVersion is bumped whenever the on-disk document shape changes
// incompatibly.
const schemaVersion = 1

// FileRecord is the last-observed tag state for one logical path.
type FileRecord struct {
	Local  []string `toml:"local"`
	Remote []string `toml:"remote"`
}

// document is the on-disk shape: a schema version tag plus the map of
// FileRecords (spec.md §6 "Snapshot file format").
type document struct {
	Version int                   `toml:"version"`
	Files   map[string]FileRecord `toml:"files"`
}

// Snapshot is the in-memory, typed view of a loaded document.
type Snapshot struct {
	Files map[tagmodel.LogicalPath]Record
}

// Record holds the typed local/remote TagSets for one logical path.
type Record struct {
	Local  tagmodel.TagSet
	Remote tagmodel.TagSet
}

// Empty returns a Snapshot with no entries, the starting point when
// no snapshot file exists yet (spec.md §4.D "Load returns the empty
// snapshot if the file is absent").
func Empty() *Snapshot {
	return &Snapshot{Files: map[tagmodel.LogicalPath]Record{}}
}

// Store loads and saves Snapshots at a single configured path.
type Store struct {
	path string
}

// New returns a Store persisting to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the snapshot file, returning an empty Snapshot if it
// does not exist. A malformed file is a fatal KindParse error: refuse
// to run rather than silently lose state.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Empty(), nil
	}
	if err != nil {
		return nil, tagerr.Wrap(err, tagerr.KindFilesystemIO, "read snapshot").WithPath(s.path)
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, tagerr.Wrap(err, tagerr.KindParse, "decode snapshot").WithPath(s.path)
	}
	if doc.Version > schemaVersion {
		return nil, tagerr.New(tagerr.KindParse, "snapshot schema version is newer than this binary supports").WithPath(s.path)
	}
	snap := Empty()
	for lp, rec := range doc.Files {
		snap.Files[tagmodel.LogicalPath(lp)] = Record{
			Local:  toTagSet(rec.Local),
			Remote: toTagSet(rec.Remote),
		}
	}
	return snap, nil
}

func toTagSet(tags []string) tagmodel.TagSet {
	out := make(tagmodel.TagSet, len(tags))
	for _, t := range tags {
		out[tagmodel.Tag(t)] = struct{}{}
	}
	return out
}

// Save writes snap atomically: a sibling temp file in the same
// directory, fsynced, then renamed over the target path (invariant
// I2). Readers either observe the prior complete snapshot or the new
// complete one, never a partial write.
func (s *Store) Save(snap *Snapshot) error {
	doc := document{
		Version: schemaVersion,
		Files:   make(map[string]FileRecord, len(snap.Files)),
	}
	for lp, rec := range snap.Files {
		doc.Files[string(lp)] = FileRecord{
			Local:  tagsOf(rec.Local),
			Remote: tagsOf(rec.Remote),
		}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return tagerr.Wrap(err, tagerr.KindFilesystemIO, "create temp snapshot").WithPath(s.path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return tagerr.Wrap(err, tagerr.KindParse, "encode snapshot").WithPath(s.path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return tagerr.Wrap(err, tagerr.KindFilesystemIO, "fsync snapshot").WithPath(s.path)
	}
	if err := tmp.Close(); err != nil {
		return tagerr.Wrap(err, tagerr.KindFilesystemIO, "close snapshot").WithPath(s.path)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return tagerr.Wrap(err, tagerr.KindFilesystemIO, "rename snapshot into place").WithPath(s.path)
	}
	return nil
}

func tagsOf(s tagmodel.TagSet) []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, t := range sorted {
		out[i] = string(t)
	}
	return out
}
