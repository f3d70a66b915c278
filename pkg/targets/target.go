// Package targets contains the built-in target plugins. A target receives
// the whole staging root and delivers it to a destination, pruning the
// destination's expired backups first.
package targets

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/config"
	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/retention"
)

// APIVersion is the plugin API every built-in target implements.
var APIVersion = engine.APIVersion{Major: 2, Minor: 0}

type versioned struct{}

func (versioned) APIVersion() engine.APIVersion { return APIVersion }

func decode(profile engine.ProfileConfig, out any) error {
	if err := config.Decode(profile.Config, out); err != nil {
		return fmt.Errorf("profile %q: %w", profile.Name, err)
	}
	return nil
}

func parsePolicy(profile engine.ProfileConfig, raw any) (*retention.Policy, error) {
	p, err := retention.ParsePolicy(raw)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", profile.Name, err)
	}
	return p, nil
}

// remoteStore is an FTP or SFTP session as seen by the remote targets.
type remoteStore interface {
	retention.Tree
	// Resolve turns a configured folder into the path used for all calls.
	Resolve(p string) (string, error)
	MakeDirAll(dir string) error
	Upload(ctx context.Context, localDir, remoteDir string, dryRun bool) error
	Close() error
}

// delivery is one run of a remote target.
type delivery struct {
	name         string
	root         string
	policy       *retention.Policy
	dryRun       bool
	isPermission retention.PermissionFunc
}

// deliver prunes expired dated folders below d.root, then mirrors the
// staging root into today's folder. Pruning failures are logged and
// reported but do not fail the delivery.
func (d delivery) deliver(ctx context.Context, store remoteStore, stagingRoot string) error {
	logger := zerolog.Ctx(ctx)
	now := engine.Now(ctx)

	if err := store.MakeDirAll(d.root); err != nil {
		return fmt.Errorf("create %s: %w", d.root, err)
	}

	dated := path.Join(d.root, now.Format(retention.DateFolderLayout))
	if d.policy.Enabled() {
		names, err := store.List(d.root)
		if err != nil {
			return fmt.Errorf("list %s: %w", d.root, err)
		}
		pruner := retention.Pruner{Policy: d.policy, Now: now, DryRun: d.dryRun, Logger: *logger}
		res := pruner.PruneNames(names, retention.DateFolderLayout, func(name string) error {
			return retention.RemoveTree(store, path.Join(d.root, name), d.isPermission)
		})
		retention.Report(ctx, d.name, res)
		if err := res.Err(); err != nil {
			logger.Error().Err(engine.NewRetentionError("some expired backups were not removed", err).
				WithResource(d.root)).Msg("retention incomplete")
		}
	}

	started := time.Now()
	logger.Info().Str("remote", dated).Bool("dry_run", d.dryRun).Msg("uploading staging area")
	if err := store.Upload(ctx, stagingRoot, dated, d.dryRun); err != nil {
		return fmt.Errorf("upload to %s: %w", dated, err)
	}
	logger.Info().Str("remote", dated).Dur("took", time.Since(started)).Msg("upload finished")
	return nil
}
