// Package orchestrator implements the Sync Orchestrator of spec.md
// §4.F: it walks both sides of every configured prefix pair, joins
// entries by logical path, drives the Tag-Set Diff, applies the
// resulting Mutations under a bounded-concurrency semaphore with the
// per-tag creation fence, and commits the new snapshot.
//
// Local/Remote stores are consumed through the narrow interfaces
// below rather than the concrete localstore/remotestore types, so a
// test harness can substitute in-memory fakes (spec.md §9
// "Polymorphism over stores").
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ede1998/nextcloud-tag-sync/internal/diff"
	"github.com/ede1998/nextcloud-tag-sync/internal/localstore"
	"github.com/ede1998/nextcloud-tag-sync/internal/pathmap"
	"github.com/ede1998/nextcloud-tag-sync/internal/remotestore"
	"github.com/ede1998/nextcloud-tag-sync/internal/snapshot"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// LocalStore is the subset of localstore.Store the orchestrator
// depends on.
type LocalStore interface {
	Write(path string, tags tagmodel.TagSet) error
	Walk(root string, yield func(localstore.Entry) error) error
}

// RemoteStore is the subset of remotestore.Store the orchestrator
// depends on.
type RemoteStore interface {
	ListFiles(ctx context.Context, remotePrefix string, yield func(remotestore.FileEntry) error) error
	ListSystemTags(ctx context.Context) (*remotestore.TagIndex, error)
	ListFileTags(ctx context.Context, fileID string, idx *remotestore.TagIndex) (tagmodel.TagSet, error)
	EnsureTag(ctx context.Context, idx *remotestore.TagIndex, tag tagmodel.Tag) (string, error)
	AttachTag(ctx context.Context, fileID, tagID string) error
	DetachTag(ctx context.Context, fileID, tagID string) error
}

// Orchestrator wires the components together per spec.md §4.F.
type Orchestrator struct {
	Mapper                *pathmap.Mapper
	Local                 LocalStore
	Remote                RemoteStore
	Snapshots             *snapshot.Store
	Policy                diff.Policy
	MaxConcurrentRequests int
	DryRun                bool
	Log                   *logrus.Entry
}

// RunResult summarizes one run for the exit-code decision in §6.
type RunResult struct {
	FilesConverged int
	FilesFailed    int
	MutationsApplied int
	PerFileErrors  map[string]error
}

// snapshotKey qualifies a LogicalPath with the prefix pair it belongs
// to so that identical relative paths under two different prefix
// pairs never collide in the snapshot map (spec.md §3 leaves this
// ambiguous; see DESIGN.md for the decision record).
func snapshotKey(pairIndex int, lp tagmodel.LogicalPath) tagmodel.LogicalPath {
	return tagmodel.LogicalPath(fmt.Sprintf("%d:%s", pairIndex, lp))
}

type joinedEntry struct {
	pairIndex int
	pair      pathmap.PrefixPair
	lp        tagmodel.LogicalPath
	localAbs  string
	localTags tagmodel.TagSet
	hasLocal  bool
	fileID    string
	hasRemote bool
}

// Run executes one full sync pass.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	log := o.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	snap, err := o.Snapshots.Load()
	if err != nil {
		return nil, err
	}

	tagIndex, err := o.Remote.ListSystemTags(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := o.enumerate(ctx, log)
	if err != nil {
		return nil, err
	}

	result := &RunResult{PerFileErrors: map[string]error{}}
	newSnap := snapshot.Empty()
	// Seed with the prior entry of every file still present on at
	// least one side, so files that fail this run keep their prior
	// record; records of files gone from both sides are not carried
	// over.
	present := make(map[tagmodel.LogicalPath]struct{}, len(entries))
	for _, e := range entries {
		present[snapshotKey(e.pairIndex, e.lp)] = struct{}{}
	}
	for k, v := range snap.Files {
		if _, ok := present[k]; ok {
			newSnap.Files[k] = v
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.MaxConcurrentRequests > 0 {
		g.SetLimit(o.MaxConcurrentRequests)
	}
	var mu sync.Mutex

	for _, e := range entries {
		e := e
		key := snapshotKey(e.pairIndex, e.lp)
		priorRecord, hadSnapshot := snap.Files[key]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mutations, newRecord, fileErr := o.processEntry(gctx, tagIndex, e, hadSnapshot, priorRecord, log)
			if fileErr != nil {
				if tagerr.KindOf(fileErr).Severity() == tagerr.SeverityFatal {
					return fileErr
				}
				mu.Lock()
				result.FilesFailed++
				result.PerFileErrors[string(e.lp)] = fileErr
				mu.Unlock()
				log.WithError(fileErr).WithField("path", e.lp).Warn("file sync failed, skipping")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			result.MutationsApplied += mutations
			if newRecord == nil {
				delete(newSnap.Files, key)
			} else {
				newSnap.Files[key] = *newRecord
				result.FilesConverged++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// A fatal error aborts the whole run without writing a
		// snapshot (spec.md §4.G "Fatal ... abort the run without
		// writing a snapshot").
		return nil, err
	}

	if !o.DryRun {
		if err := o.Snapshots.Save(newSnap); err != nil {
			return nil, err
		}
	}

	return result, nil
}
