package remotestore

import (
	"sync"

	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// TagIndex is the per-run bijection between Tag names and the opaque
// numeric ids the Nextcloud server assigns them (spec.md §3). It is
// read-mostly; every read and write takes its RWMutex. Concurrent
// creation of the same tag is collapsed by Store.EnsureTag's
// singleflight group, not by this mutex.
type TagIndex struct {
	mu       sync.RWMutex
	byName   map[tagmodel.Tag]string
	byID     map[string]tagmodel.Tag
}

// NewTagIndex returns an empty TagIndex.
func NewTagIndex() *TagIndex {
	return &TagIndex{
		byName: make(map[tagmodel.Tag]string),
		byID:   make(map[string]tagmodel.Tag),
	}
}

// Lookup returns the id for tag, if known.
func (idx *TagIndex) Lookup(tag tagmodel.Tag) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.byName[tag]
	return id, ok
}

// Name returns the tag name for id, if known.
func (idx *TagIndex) Name(id string) (tagmodel.Tag, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tag, ok := idx.byID[id]
	return tag, ok
}

// Put records a tag/id association, e.g. after ListSystemTags or a
// successful CreateRemoteTag.
func (idx *TagIndex) Put(tag tagmodel.Tag, id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byName[tag] = id
	idx.byID[id] = tag
}

// Entries returns a copy of the name-to-id map, used to seed Reset on
// another TagIndex (e.g. when EnsureTag rebuilds after a 409).
func (idx *TagIndex) Entries() map[tagmodel.Tag]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[tagmodel.Tag]string, len(idx.byName))
	for tag, id := range idx.byName {
		out[tag] = id
	}
	return out
}

// Reset replaces the whole index content, used when rebuilding after a
// 409 on tag creation.
func (idx *TagIndex) Reset(entries map[tagmodel.Tag]string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byName = make(map[tagmodel.Tag]string, len(entries))
	idx.byID = make(map[string]tagmodel.Tag, len(entries))
	for tag, id := range entries {
		idx.byName[tag] = id
		idx.byID[id] = tag
	}
}
