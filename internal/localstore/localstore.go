// Package localstore reads and writes the tag extended attribute on
// local files and enumerates tagged files under a root (spec.md
// §4.B), grounded on the teacher's backend/local xattr handling.
package localstore

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/xattr"

	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// DefaultAttribute is the extended attribute name used when the
// configuration does not override it (spec.md §6).
const DefaultAttribute = "user.xdg.tags"

// Entry is one (path, tags) pair yielded by Walk.
type Entry struct {
	Path tagmodel.LogicalPath
	Abs  string
	Tags tagmodel.TagSet
}

// Store implements the Local Tag Store contract of spec.md §4.B.
type Store struct {
	attribute string
}

// New returns a Store that reads/writes the given extended attribute
// name.
func New(attribute string) *Store {
	if attribute == "" {
		attribute = DefaultAttribute
	}
	return &Store{attribute: attribute}
}

// Read returns the TagSet stored on path, or the empty set if the
// attribute is absent or blank.
func (s *Store) Read(path string) (tagmodel.TagSet, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, tagerr.Wrap(err, tagerr.KindFilesystemIO, "stat").WithPath(path)
	}
	if !info.Mode().IsRegular() {
		return nil, tagerr.New(tagerr.KindFilesystemNotAFile, "not a regular file").WithPath(path)
	}
	raw, err := xattr.Get(path, s.attribute)
	if err != nil {
		if isNotSupported(err) {
			return nil, tagerr.Wrap(err, tagerr.KindAttributeUnsupported, "xattr unsupported").WithPath(path)
		}
		if isNotExist(err) {
			return tagmodel.TagSet{}, nil
		}
		return nil, tagerr.Wrap(err, tagerr.KindFilesystemIO, "read xattr").WithPath(path)
	}
	return tagmodel.ParseLocal(string(raw)), nil
}

// Write replaces the tag attribute on path with tags, serialized as a
// comma-joined list. A failed write must not leave a partial value:
// xattr.Set on POSIX filesystems performs a single setxattr(2) syscall
// which is atomic from the caller's perspective.
func (s *Store) Write(path string, tags tagmodel.TagSet) error {
	info, err := os.Lstat(path)
	if err != nil {
		return tagerr.Wrap(err, tagerr.KindFilesystemIO, "stat").WithPath(path)
	}
	if !info.Mode().IsRegular() {
		return tagerr.New(tagerr.KindFilesystemNotAFile, "not a regular file").WithPath(path)
	}
	value := tags.SerializeLocal()
	if value == "" {
		err = xattr.Remove(path, s.attribute)
		if err != nil && !isNotExist(err) {
			if isNotSupported(err) {
				return tagerr.Wrap(err, tagerr.KindAttributeUnsupported, "xattr unsupported").WithPath(path)
			}
			return tagerr.Wrap(err, tagerr.KindFilesystemIO, "remove xattr").WithPath(path)
		}
		return nil
	}
	if err := xattr.Set(path, s.attribute, []byte(value)); err != nil {
		if isNotSupported(err) {
			return tagerr.Wrap(err, tagerr.KindAttributeUnsupported, "xattr unsupported").WithPath(path)
		}
		return tagerr.Wrap(err, tagerr.KindFilesystemIO, "write xattr").WithPath(path)
	}
	return nil
}

// Walk yields (logical path, tags) for every regular file under root,
// calling yield for each. Symlinks are not followed. Walk stops and
// returns the first error either from the filesystem walk or from
// yield.
func (s *Store) Walk(root string, yield func(Entry) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return tagerr.Wrap(err, tagerr.KindFilesystemIO, "walk").WithPath(p)
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return tagerr.Wrap(err, tagerr.KindFilesystemIO, "relativize path").WithPath(p)
		}
		tags, err := s.Read(p)
		if err != nil {
			return err
		}
		return yield(Entry{
			Path: tagmodel.LogicalPath(filepath.ToSlash(rel)),
			Abs:  p,
			Tags: tags,
		})
	})
}

func isNotSupported(err error) bool {
	xerr, ok := err.(*xattr.Error)
	if !ok {
		return false
	}
	return strings.Contains(xerr.Err.Error(), "not supported") ||
		strings.Contains(xerr.Err.Error(), "not implemented")
}

func isNotExist(err error) bool {
	xerr, ok := err.(*xattr.Error)
	if !ok {
		return os.IsNotExist(err)
	}
	return os.IsNotExist(xerr.Err) || xerr.Err == xattr.ENOATTR
}
