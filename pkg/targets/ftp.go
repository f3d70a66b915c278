package targets

import (
	"context"
	"fmt"
	"time"

	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/retention"
	"github.com/pickup-backup/pickup/pkg/transports/ftp"
)

// FTPConfig configures the ftp target.
type FTPConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"min=1,max=65535"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	RemoteFolder string `mapstructure:"remote_folder"`
	Retention    any    `mapstructure:"retention"`
	DryRun       bool   `mapstructure:"dry_run"`
	Timeout      int    `mapstructure:"timeout" validate:"min=0"`
	DisableEPSV  bool   `mapstructure:"disable_epsv"`
}

// FTP uploads the staging area into a dated folder on an FTP server.
// Expired backups are recognized by their folder name.
type FTP struct {
	versioned
	name   string
	cfg    FTPConfig
	policy *retention.Policy
	dial   func(ctx context.Context, cfg ftp.Config) (remoteStore, error)
}

// NewFTP creates an uninitialized ftp target.
func NewFTP() engine.Plugin {
	return &FTP{dial: dialFTP}
}

type ftpStore struct {
	*ftp.Client
}

func (s ftpStore) Upload(ctx context.Context, localDir, remoteDir string, dryRun bool) error {
	return s.UploadTree(ctx, localDir, remoteDir, dryRun)
}

func dialFTP(ctx context.Context, cfg ftp.Config) (remoteStore, error) {
	c, err := ftp.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ftpStore{c}, nil
}

// Init decodes and checks the configuration.
func (f *FTP) Init(_ context.Context, profile engine.ProfileConfig) error {
	cfg := FTPConfig{Port: 21, Timeout: 30}
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	policy, err := parsePolicy(profile, cfg.Retention)
	if err != nil {
		return err
	}
	f.name = profile.Name
	f.cfg = cfg
	f.policy = policy
	return nil
}

// Run connects, prunes and uploads root.
func (f *FTP) Run(ctx context.Context, root string) error {
	store, err := f.dial(ctx, ftp.Config{
		Host:        f.cfg.Host,
		Port:        f.cfg.Port,
		User:        f.cfg.Username,
		Password:    f.cfg.Password,
		Timeout:     time.Duration(f.cfg.Timeout) * time.Second,
		DisableEPSV: f.cfg.DisableEPSV,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	remoteRoot, err := store.Resolve(f.cfg.RemoteFolder)
	if err != nil {
		return fmt.Errorf("resolve remote folder: %w", err)
	}

	d := delivery{
		name:         f.name,
		root:         remoteRoot,
		policy:       f.policy,
		dryRun:       f.cfg.DryRun,
		isPermission: ftp.IsPermission,
	}
	return d.deliver(ctx, store, root)
}
