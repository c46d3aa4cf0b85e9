package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ede1998/nextcloud-tag-sync/internal/localstore"
	"github.com/ede1998/nextcloud-tag-sync/internal/remotestore"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// enumerate walks both sides of every configured prefix pair
// concurrently (spec.md §4.F phase 3) and outer-joins the two listings
// by logical path.
func (o *Orchestrator) enumerate(ctx context.Context, log *logrus.Entry) ([]joinedEntry, error) {
	pairs := o.Mapper.Pairs()
	var all []joinedEntry
	for i, pair := range pairs {
		localByPath := map[tagmodel.LogicalPath]localstore.Entry{}
		remoteByPath := map[tagmodel.LogicalPath]remotestore.FileEntry{}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return o.Local.Walk(pair.Local, func(e localstore.Entry) error {
				localByPath[e.Path] = e
				return nil
			})
		})
		g.Go(func() error {
			return o.Remote.ListFiles(gctx, pair.Remote, func(fe remotestore.FileEntry) error {
				_, lp, err := o.Mapper.ToLogicalRemote(fe.Path)
				if err != nil {
					log.WithError(err).WithField("path", fe.Path).Warn("remote entry outside configured prefix, skipping")
					return nil
				}
				remoteByPath[lp] = fe
				return nil
			})
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		seen := map[tagmodel.LogicalPath]struct{}{}
		for lp, le := range localByPath {
			re, hasRemote := remoteByPath[lp]
			all = append(all, joinedEntry{
				pairIndex: i,
				pair:      pair,
				lp:        lp,
				localAbs:  le.Abs,
				localTags: le.Tags,
				hasLocal:  true,
				fileID:    re.FileID,
				hasRemote: hasRemote,
			})
			seen[lp] = struct{}{}
		}
		for lp, re := range remoteByPath {
			if _, ok := seen[lp]; ok {
				continue
			}
			all = append(all, joinedEntry{
				pairIndex: i,
				pair:      pair,
				lp:        lp,
				hasLocal:  false,
				fileID:    re.FileID,
				hasRemote: true,
			})
		}
	}
	return all, nil
}
