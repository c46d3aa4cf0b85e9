package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/xattr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

func skipIfXattrUnsupported(t *testing.T, path string) {
	t.Helper()
	if err := xattr.Set(path, "user.nextcloud-tag-sync-probe", []byte("x")); err != nil {
		t.Skipf("extended attributes not supported on this filesystem: %v", err)
	}
	_ = xattr.Remove(path, "user.nextcloud-tag-sync-probe")
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	skipIfXattrUnsupported(t, path)

	s := New("")
	require.NoError(t, s.Write(path, tagmodel.NewTagSet("work", "urgent")))

	got, err := s.Read(path)
	require.NoError(t, err)
	assert.True(t, got.Equal(tagmodel.NewTagSet("work", "urgent")))
}

func TestReadMissingAttributeReturnsEmptySet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	skipIfXattrUnsupported(t, path)

	s := New("")
	got, err := s.Read(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteEmptySetRemovesAttribute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	skipIfXattrUnsupported(t, path)

	s := New("")
	require.NoError(t, s.Write(path, tagmodel.NewTagSet("work")))
	require.NoError(t, s.Write(path, tagmodel.TagSet{}))

	got, err := s.Read(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteOnDirectoryFails(t *testing.T) {
	dir := t.TempDir()
	s := New("")
	err := s.Write(dir, tagmodel.NewTagSet("work"))
	require.Error(t, err)
}

func TestWalkSkipsDirectoriesAndSymlinks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644))
	_ = os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link.txt"))

	s := New("")
	var paths []string
	require.NoError(t, s.Walk(dir, func(e Entry) error {
		paths = append(paths, string(e.Path))
		return nil
	}))
	assert.ElementsMatch(t, []string{"a.txt", filepath.ToSlash(filepath.Join("sub", "b.txt"))}, paths)
}
