package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ede1998/nextcloud-tag-sync/internal/diff"
	"github.com/ede1998/nextcloud-tag-sync/internal/remotestore"
	"github.com/ede1998/nextcloud-tag-sync/internal/snapshot"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// processEntry computes and, unless DryRun, applies the Mutations for
// one joined (local, remote) pair, returning the mutation count and
// the new snapshot Record. A nil Record with a nil error means the
// file disappeared from both sides and must be dropped from the
// snapshot (spec.md "FileRecords are deleted from the snapshot when a
// file disappears from both sides").
func (o *Orchestrator) processEntry(
	ctx context.Context,
	tagIndex *remotestore.TagIndex,
	e joinedEntry,
	hadSnapshot bool,
	prior snapshot.Record,
	log *logrus.Entry,
) (mutationCount int, newRecord *snapshot.Record, err error) {
	if !e.hasLocal && !e.hasRemote {
		return 0, nil, nil
	}

	nowRemote := tagmodel.TagSet{}
	if e.hasRemote {
		nowRemote, err = o.Remote.ListFileTags(ctx, e.fileID, tagIndex)
		if err != nil {
			return 0, nil, err
		}
	}
	nowLocal := e.localTags
	if nowLocal == nil {
		nowLocal = tagmodel.TagSet{}
	}

	input := diff.Input{
		HadSnapshot:  hadSnapshot,
		SnapLocal:    prior.Local,
		SnapRemote:   prior.Remote,
		LocalExists:  e.hasLocal,
		RemoteExists: e.hasRemote,
		NowLocal:     nowLocal,
		NowRemote:    nowRemote,
	}
	result := diff.Compute(input, o.Policy)

	for _, bad := range result.Dropped {
		log.WithField("path", e.lp).WithField("tag", bad).Warn("dropping tag with invalid name")
	}

	if len(result.Mutations) == 0 {
		return 0, toRecord(result), nil
	}

	if o.DryRun {
		for _, m := range result.Mutations {
			log.WithField("path", e.lp).WithField("tag", m.Tag).WithField("mutation", m.Kind.String()).Info("dry run: would apply mutation")
		}
		return 0, toRecord(result), nil
	}

	localChanged := false
	for _, m := range result.Mutations {
		if m.Kind == diff.AddLocal || m.Kind == diff.RemoveLocal {
			localChanged = true
		}
	}
	if localChanged {
		if err := o.Local.Write(e.localAbs, result.FinalLocal); err != nil {
			return 0, nil, err
		}
	}

	applied := 0
	for _, m := range result.Mutations {
		switch m.Kind {
		case diff.AddRemote:
			id, err := o.Remote.EnsureTag(ctx, tagIndex, m.Tag)
			if err != nil {
				return applied, nil, err
			}
			if err := o.Remote.AttachTag(ctx, e.fileID, id); err != nil {
				return applied, nil, err
			}
		case diff.RemoveRemote:
			id, ok := tagIndex.Lookup(m.Tag)
			if !ok {
				// Nothing to detach; the tag was never known to the
				// server under this name.
				continue
			}
			if err := o.Remote.DetachTag(ctx, e.fileID, id); err != nil {
				return applied, nil, err
			}
		}
		applied++
	}

	return applied, toRecord(result), nil
}

func toRecord(r diff.Result) *snapshot.Record {
	if !r.HasLocal && !r.HasRemote {
		return nil
	}
	return &snapshot.Record{Local: r.FinalLocal, Remote: r.FinalRemote}
}
