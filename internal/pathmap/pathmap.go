// Package pathmap implements the bijective translation between local
// filesystem paths and remote WebDAV paths under a set of configured
// prefix pairs (spec.md §4.A).
package pathmap

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// remotePrefixRoot is the literal prefix every remote path in a
// PrefixPair must begin with, per spec.md §3 ("Invariant: the remote
// path must start with that literal prefix").
const remotePrefixRoot = "/remote.php/dav/files/"

// PrefixPair maps one local directory tree onto one remote WebDAV
// path.
type PrefixPair struct {
	Local  string // absolute local path, no trailing slash
	Remote string // remote WebDAV path, beginning with remotePrefixRoot
}

// Mapper resolves paths against a set of PrefixPairs using
// longest-prefix matching.
type Mapper struct {
	pairs []PrefixPair
}

// New builds a Mapper from pairs, normalizing each and rejecting
// overlapping prefixes at construction (spec.md §4.A).
func New(pairs []PrefixPair) (*Mapper, error) {
	normalized := make([]PrefixPair, len(pairs))
	for i, p := range pairs {
		if !strings.HasPrefix(p.Remote, remotePrefixRoot) {
			return nil, tagerr.New(tagerr.KindPathMapping,
				"remote path must begin with "+remotePrefixRoot).WithPath(p.Remote)
		}
		normalized[i] = PrefixPair{
			Local:  normalizeLocal(p.Local),
			Remote: normalizeRemote(p.Remote),
		}
	}
	for i := range normalized {
		for j := range normalized {
			if i == j {
				continue
			}
			if overlaps(normalized[i].Local, normalized[j].Local) ||
				overlaps(normalized[i].Remote, normalized[j].Remote) {
				return nil, tagerr.New(tagerr.KindPathMapping,
					"overlapping prefix pairs: "+normalized[i].Local+" and "+normalized[j].Local)
			}
		}
	}
	return &Mapper{pairs: normalized}, nil
}

// overlaps reports whether a is a prefix of b or vice versa (treating
// both as directory trees, so "a/b" does not overlap with "a/bc").
func overlaps(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a+"/", b+"/") || strings.HasPrefix(b+"/", a+"/")
}

func normalizeLocal(p string) string {
	p = filepath.Clean(p)
	return strings.TrimRight(filepath.ToSlash(p), "/")
}

func normalizeRemote(p string) string {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		decoded = p
	}
	decoded = path.Clean(decoded)
	return strings.TrimRight(decoded, "/")
}

// ToLogicalLocal resolves a local absolute path to its PrefixPair and
// LogicalPath, using longest-prefix matching.
func (m *Mapper) ToLogicalLocal(localAbs string) (PrefixPair, tagmodel.LogicalPath, error) {
	candidate := normalizeLocal(localAbs)
	return m.toLogical(candidate, func(p PrefixPair) string { return p.Local })
}

// ToLogicalRemote resolves a remote WebDAV path (percent-decoded
// before matching) to its PrefixPair and LogicalPath.
func (m *Mapper) ToLogicalRemote(remotePath string) (PrefixPair, tagmodel.LogicalPath, error) {
	candidate := normalizeRemote(remotePath)
	return m.toLogical(candidate, func(p PrefixPair) string { return p.Remote })
}

func (m *Mapper) toLogical(candidate string, side func(PrefixPair) string) (PrefixPair, tagmodel.LogicalPath, error) {
	var best *PrefixPair
	for i := range m.pairs {
		root := side(m.pairs[i])
		if candidate == root || strings.HasPrefix(candidate+"/", root+"/") {
			if best == nil || len(side(*best)) < len(root) {
				p := m.pairs[i]
				best = &p
			}
		}
	}
	if best == nil {
		return PrefixPair{}, "", tagerr.New(tagerr.KindPathMapping, "path outside any configured prefix").WithPath(candidate)
	}
	rel := strings.TrimPrefix(candidate, side(*best))
	rel = strings.TrimPrefix(rel, "/")
	return *best, tagmodel.LogicalPath(rel), nil
}

// ToLocal joins a PrefixPair and LogicalPath into an absolute local
// path.
func (m *Mapper) ToLocal(pair PrefixPair, lp tagmodel.LogicalPath) string {
	if lp == "" {
		return pair.Local
	}
	return pair.Local + "/" + string(lp)
}

// ToRemote joins a PrefixPair and LogicalPath into a remote WebDAV
// path, percent-encoding path segments per RFC 3986 (slashes
// preserved between segments).
func (m *Mapper) ToRemote(pair PrefixPair, lp tagmodel.LogicalPath) string {
	if lp == "" {
		return pair.Remote
	}
	segments := strings.Split(string(lp), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return pair.Remote + "/" + strings.Join(segments, "/")
}

// Pairs returns the normalized prefix pairs the Mapper was built with.
func (m *Mapper) Pairs() []PrefixPair {
	out := make([]PrefixPair, len(m.pairs))
	copy(out, m.pairs)
	return out
}
