package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ede1998/nextcloud-tag-sync/internal/diff"
	"github.com/ede1998/nextcloud-tag-sync/internal/localstore"
	"github.com/ede1998/nextcloud-tag-sync/internal/pathmap"
	"github.com/ede1998/nextcloud-tag-sync/internal/remotestore"
	"github.com/ede1998/nextcloud-tag-sync/internal/snapshot"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// fakeLocal is an in-memory LocalStore substitute (spec's "Polymorphism
// over stores").
type fakeLocal struct {
	entries []localstore.Entry
	written map[string]tagmodel.TagSet
}

func (f *fakeLocal) Walk(root string, yield func(localstore.Entry) error) error {
	for _, e := range f.entries {
		if err := yield(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeLocal) Write(path string, tags tagmodel.TagSet) error {
	if f.written == nil {
		f.written = map[string]tagmodel.TagSet{}
	}
	f.written[path] = tags
	return nil
}

type fakeRemote struct {
	files    []remotestore.FileEntry
	fileTags map[string]tagmodel.TagSet
	attached map[string][]string
	detached map[string][]string
	idToTag  map[string]tagmodel.Tag
	nextID   int
}

func (f *fakeRemote) ListFiles(ctx context.Context, remotePrefix string, yield func(remotestore.FileEntry) error) error {
	for _, e := range f.files {
		if err := yield(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRemote) ListSystemTags(ctx context.Context) (*remotestore.TagIndex, error) {
	return remotestore.NewTagIndex(), nil
}

func (f *fakeRemote) ListFileTags(ctx context.Context, fileID string, idx *remotestore.TagIndex) (tagmodel.TagSet, error) {
	return f.fileTags[fileID].Clone(), nil
}

func (f *fakeRemote) EnsureTag(ctx context.Context, idx *remotestore.TagIndex, tag tagmodel.Tag) (string, error) {
	if id, ok := idx.Lookup(tag); ok {
		return id, nil
	}
	f.nextID++
	id := filepath.Base(string(tag)) + "-id"
	idx.Put(tag, id)
	if f.idToTag == nil {
		f.idToTag = map[string]tagmodel.Tag{}
	}
	f.idToTag[id] = tag
	return id, nil
}

func (f *fakeRemote) AttachTag(ctx context.Context, fileID, tagID string) error {
	if f.attached == nil {
		f.attached = map[string][]string{}
	}
	f.attached[fileID] = append(f.attached[fileID], tagID)
	if f.fileTags == nil {
		f.fileTags = map[string]tagmodel.TagSet{}
	}
	if tag, ok := f.idToTag[tagID]; ok {
		f.fileTags[fileID] = f.fileTags[fileID].Add(tag)
	}
	return nil
}

func (f *fakeRemote) DetachTag(ctx context.Context, fileID, tagID string) error {
	if f.detached == nil {
		f.detached = map[string][]string{}
	}
	f.detached[fileID] = append(f.detached[fileID], tagID)
	if tag, ok := f.idToTag[tagID]; ok {
		f.fileTags[fileID] = f.fileTags[fileID].Remove(tag)
	}
	return nil
}

func newTestMapper(t *testing.T) *pathmap.Mapper {
	t.Helper()
	m, err := pathmap.New([]pathmap.PrefixPair{
		{Local: "/home/alice/Documents", Remote: "/remote.php/dav/files/alice/Documents"},
	})
	require.NoError(t, err)
	return m
}

func TestRunPropagatesFreshLocalTagToRemote(t *testing.T) {
	local := &fakeLocal{
		entries: []localstore.Entry{
			{Path: "report.pdf", Abs: "/home/alice/Documents/report.pdf", Tags: tagmodel.NewTagSet("urgent")},
		},
	}
	remote := &fakeRemote{
		files:    []remotestore.FileEntry{{Path: "/remote.php/dav/files/alice/Documents/report.pdf", FileID: "42"}},
		fileTags: map[string]tagmodel.TagSet{"42": tagmodel.TagSet{}},
	}

	dir := t.TempDir()
	orch := &Orchestrator{
		Mapper:                newTestMapper(t),
		Local:                 local,
		Remote:                remote,
		Snapshots:             snapshot.New(filepath.Join(dir, "snapshot.toml")),
		Policy:                diff.Both,
		MaxConcurrentRequests: 4,
	}

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.MutationsApplied)
	assert.Equal(t, 1, result.FilesConverged)
	assert.Equal(t, []string{"urgent-id"}, remote.attached["42"])

	// A second run with nothing changed should be a no-op.
	result2, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result2.MutationsApplied)
}

func TestRunDryRunAppliesNoMutations(t *testing.T) {
	local := &fakeLocal{
		entries: []localstore.Entry{
			{Path: "report.pdf", Abs: "/home/alice/Documents/report.pdf", Tags: tagmodel.NewTagSet("urgent")},
		},
	}
	remote := &fakeRemote{
		files:    []remotestore.FileEntry{{Path: "/remote.php/dav/files/alice/Documents/report.pdf", FileID: "42"}},
		fileTags: map[string]tagmodel.TagSet{"42": tagmodel.TagSet{}},
	}

	dir := t.TempDir()
	snapPath := filepath.Join(dir, "snapshot.toml")
	orch := &Orchestrator{
		Mapper:     newTestMapper(t),
		Local:      local,
		Remote:     remote,
		Snapshots:  snapshot.New(snapPath),
		Policy:     diff.Both,
		DryRun:     true,
	}

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.MutationsApplied)
	assert.Nil(t, remote.attached["42"])

	_, err = snapshot.New(snapPath).Load()
	require.NoError(t, err)
}

func TestRunSkipsPerFileErrorWithoutAbortingRun(t *testing.T) {
	local := &fakeLocal{
		entries: []localstore.Entry{
			{Path: "good.pdf", Abs: "/home/alice/Documents/good.pdf", Tags: tagmodel.NewTagSet("ok")},
			{Path: "bad.pdf", Abs: "/home/alice/Documents/bad.pdf", Tags: tagmodel.NewTagSet("ok")},
		},
	}
	remote := &erroringRemote{
		fakeRemote: fakeRemote{
			files: []remotestore.FileEntry{
				{Path: "/remote.php/dav/files/alice/Documents/good.pdf", FileID: "1"},
				{Path: "/remote.php/dav/files/alice/Documents/bad.pdf", FileID: "2"},
			},
			fileTags: map[string]tagmodel.TagSet{"1": {}, "2": {}},
		},
		failFileID: "2",
	}

	dir := t.TempDir()
	orch := &Orchestrator{
		Mapper:    newTestMapper(t),
		Local:     local,
		Remote:    remote,
		Snapshots: snapshot.New(filepath.Join(dir, "snapshot.toml")),
		Policy:    diff.Both,
	}

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesFailed)
	assert.Equal(t, 1, result.FilesConverged)
}

// erroringRemote wraps fakeRemote to fail ListFileTags for one file ID,
// simulating a per-file Permanent error (spec.md §4.G).
type erroringRemote struct {
	fakeRemote
	failFileID string
}

func (f *erroringRemote) ListFileTags(ctx context.Context, fileID string, idx *remotestore.TagIndex) (tagmodel.TagSet, error) {
	if fileID == f.failFileID {
		return nil, tagerr.New(tagerr.KindFilesystemNotAFile, "simulated per-file failure").WithPath(fileID)
	}
	return f.fakeRemote.ListFileTags(ctx, fileID, idx)
}
