package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ede1998/nextcloud-tag-sync/internal/config"
	"github.com/ede1998/nextcloud-tag-sync/internal/localstore"
	"github.com/ede1998/nextcloud-tag-sync/internal/orchestrator"
	"github.com/ede1998/nextcloud-tag-sync/internal/pathmap"
	"github.com/ede1998/nextcloud-tag-sync/internal/remotestore"
	"github.com/ede1998/nextcloud-tag-sync/internal/snapshot"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
)

// requestTimeout is the §6 default per-request timeout.
const requestTimeout = 30 * time.Second

func newSyncCmd() *cobra.Command {
	var dryRunFlag bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, dryRunFlag)
		},
	}
	cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "compute mutations but do not apply them")
	return cmd
}

func runSync(cmd *cobra.Command, dryRunFlag bool) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("configuration error")
		return &exitError{code: 3, err: err}
	}
	if dryRunFlag {
		cfg.DryRun = true
	}

	policy, err := cfg.ConflictPolicy()
	if err != nil {
		return &exitError{code: 3, err: err}
	}

	pairs := make([]pathmap.PrefixPair, len(cfg.Prefixes))
	for i, p := range cfg.Prefixes {
		pairs[i] = pathmap.PrefixPair{Local: p.Local, Remote: p.Remote}
	}
	mapper, err := pathmap.New(pairs)
	if err != nil {
		log.WithError(err).Error("invalid prefix configuration")
		return &exitError{code: 2, err: err}
	}

	remote, err := remotestore.New(cfg.NextcloudInstance, cfg.User, cfg.Token, requestTimeout, log)
	if err != nil {
		log.WithError(err).Error("failed to build remote store")
		return &exitError{code: 2, err: err}
	}

	orch := &orchestrator.Orchestrator{
		Mapper:                mapper,
		Local:                 localstore.New(cfg.LocalTagPropertyName),
		Remote:                remote,
		Snapshots:             snapshot.New(cfg.TagDatabase),
		Policy:                policy,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		DryRun:                cfg.DryRun,
		Log:                   log,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orch.Run(ctx)
	if err != nil {
		log.WithError(err).Error("sync run aborted")
		return &exitError{code: 2, err: err}
	}

	log.WithFields(logrus.Fields{
		"files_converged":   result.FilesConverged,
		"files_failed":      result.FilesFailed,
		"mutations_applied": result.MutationsApplied,
	}).Info("sync run complete")

	if result.FilesFailed > 0 {
		return &exitError{code: 1, err: tagerr.New(tagerr.KindUnknown, "one or more files failed to sync")}
	}
	return nil
}
