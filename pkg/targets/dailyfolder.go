package targets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/retention"
)

// DailyFolderConfig configures the dailyfolder target.
type DailyFolderConfig struct {
	Path      string `mapstructure:"path" validate:"required"`
	Retention any    `mapstructure:"retention"`
}

// DailyFolder copies the staging area into path/YYYY-MM-DD. Expired
// children of path are found by modification time.
type DailyFolder struct {
	versioned
	name   string
	cfg    DailyFolderConfig
	policy *retention.Policy
	now    time.Time
}

var _ engine.FolderProvider = (*DailyFolder)(nil)

// NewDailyFolder creates an uninitialized dailyfolder target.
func NewDailyFolder() engine.Plugin {
	return &DailyFolder{}
}

// Init decodes the configuration and fixes the date of the run.
func (d *DailyFolder) Init(ctx context.Context, profile engine.ProfileConfig) error {
	var cfg DailyFolderConfig
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	policy, err := parsePolicy(profile, cfg.Retention)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return fmt.Errorf("path %q: %w", cfg.Path, err)
	}
	cfg.Path = abs

	d.name = profile.Name
	d.cfg = cfg
	d.policy = policy
	d.now = engine.Now(ctx)
	return nil
}

// Folder returns today's backup folder.
func (d *DailyFolder) Folder() (string, error) {
	if d.cfg.Path == "" {
		return "", fmt.Errorf("dailyfolder is not initialized")
	}
	return filepath.Join(d.cfg.Path, d.now.Format(retention.DateFolderLayout)), nil
}

// Run prunes expired backups, then copies root into today's folder. When
// root already is today's folder the copy is skipped.
func (d *DailyFolder) Run(ctx context.Context, root string) error {
	logger := zerolog.Ctx(ctx)

	if err := os.MkdirAll(d.cfg.Path, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", d.cfg.Path, err)
	}

	folder, err := d.Folder()
	if err != nil {
		return err
	}

	if d.policy.Enabled() {
		entries, err := d.entries(folder)
		if err != nil {
			return err
		}
		pruner := retention.Pruner{Policy: d.policy, Now: engine.Now(ctx), Logger: *logger}
		res := pruner.Prune(entries, func(name string) error {
			return os.RemoveAll(filepath.Join(d.cfg.Path, name))
		})
		retention.Report(ctx, d.name, res)
		if err := res.Err(); err != nil {
			logger.Error().Err(engine.NewRetentionError("some expired backups were not removed", err).
				WithResource(d.cfg.Path)).Msg("retention incomplete")
		}
	}

	if sameDir(root, folder) {
		logger.Info().Str("folder", folder).Msg("staging area is the backup folder, nothing to copy")
		return nil
	}
	logger.Info().Str("from", root).Str("to", folder).Msg("copying staging area")
	return copyTree(ctx, root, folder)
}

// entries lists the children of the backup path with their mtimes. The
// folder of the current run is never a pruning candidate.
func (d *DailyFolder) entries(current string) ([]retention.Entry, error) {
	dirEntries, err := os.ReadDir(d.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.cfg.Path, err)
	}
	var out []retention.Entry
	for _, e := range dirEntries {
		if filepath.Join(d.cfg.Path, e.Name()) == current {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, retention.Entry{Name: e.Name(), Timestamp: info.ModTime()})
	}
	return out, nil
}

func sameDir(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
