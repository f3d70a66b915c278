package generators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/archive"
	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/staging"
)

// LooseFilesName is the tarball that collects plain files in split mode.
const LooseFilesName = "__PICKUP_FILES__"

// FolderConfig configures the folder generator.
type FolderConfig struct {
	Path        string `mapstructure:"path" validate:"required"`
	Split       bool   `mapstructure:"split"`
	Compression string `mapstructure:"compression"`
}

// Folder archives a local directory. In split mode every subdirectory gets
// its own tarball and plain files are collected into __PICKUP_FILES__.
type Folder struct {
	versioned
	name string
	cfg  FolderConfig
	comp archive.Compression
}

// NewFolder creates an uninitialized folder generator.
func NewFolder() engine.Plugin {
	return &Folder{}
}

// Init decodes and checks the configuration.
func (f *Folder) Init(_ context.Context, profile engine.ProfileConfig) error {
	var cfg FolderConfig
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	comp, err := archive.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}
	f.name = profile.Name
	f.cfg = cfg
	f.comp = comp
	return nil
}

// Run writes the tarball(s) into path.
func (f *Folder) Run(ctx context.Context, path string) error {
	info, err := os.Stat(f.cfg.Path)
	if err != nil {
		return fmt.Errorf("source %s: %w", f.cfg.Path, err)
	}

	if f.cfg.Split {
		if !info.IsDir() {
			return fmt.Errorf("cannot split %s: not a directory", f.cfg.Path)
		}
		return f.splitTar(ctx, path)
	}
	return f.simpleTar(ctx, path)
}

func (f *Folder) tarExt() string {
	return ".tar" + f.comp.Extension()
}

func (f *Folder) simpleTar(ctx context.Context, dir string) error {
	dest := uniquePath(dir, staging.SafeName(f.name), f.tarExt())
	zerolog.Ctx(ctx).Info().Str("source", f.cfg.Path).Str("file", dest).Msg("creating tarball")
	return f.writeTar(ctx, dest, f.cfg.Path)
}

func (f *Folder) splitTar(ctx context.Context, dir string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("source", f.cfg.Path).Msg("creating one tarball per folder")

	entries, err := os.ReadDir(f.cfg.Path)
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		full := filepath.Join(f.cfg.Path, e.Name())
		if !e.IsDir() {
			files = append(files, full)
			continue
		}
		dest := uniquePath(dir, e.Name(), f.tarExt())
		logger.Info().Str("file", dest).Msg("writing tarball")
		if err := f.writeTar(ctx, dest, full); err != nil {
			return err
		}
	}

	if len(files) == 0 {
		return nil
	}
	dest := uniquePath(dir, LooseFilesName, f.tarExt())
	logger.Info().Str("file", dest).Int("files", len(files)).Msg("writing remaining files")
	return f.writeTar(ctx, dest, files...)
}

func (f *Folder) writeTar(ctx context.Context, dest string, sources ...string) error {
	tf, err := archive.CreateTar(dest, f.comp)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := tf.Add(ctx, src); err != nil {
			tf.Abort()
			return fmt.Errorf("archive %s: %w", src, err)
		}
	}
	return tf.Close()
}
