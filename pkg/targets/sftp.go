package targets

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/retention"
	"github.com/pickup-backup/pickup/pkg/transports/ssh"
)

// SFTPConfig configures the sftp target.
type SFTPConfig struct {
	Hostname              string   `mapstructure:"hostname" validate:"required"`
	Port                  int      `mapstructure:"port" validate:"min=1,max=65535"`
	Username              string   `mapstructure:"username" validate:"required"`
	Password              string   `mapstructure:"password"`
	KeyFilename           []string `mapstructure:"key_filename"`
	KnownHosts            string   `mapstructure:"known_hosts"`
	StrictHostKeyChecking bool     `mapstructure:"strict_host_key_checking"`
	Timeout               int      `mapstructure:"timeout" validate:"min=0"`
	RemoteFolder          string   `mapstructure:"remote_folder"`
	Retention             any      `mapstructure:"retention"`
	DryRun                bool     `mapstructure:"dry_run"`
}

// SFTP uploads the staging area into a dated folder over SFTP, with the
// same naming and retention rules as the ftp target.
type SFTP struct {
	versioned
	name   string
	cfg    SFTPConfig
	ssh    *ssh.Config
	policy *retention.Policy
	dial   func(*ssh.Config) (ssh.Transport, error)
}

// NewSFTP creates an uninitialized sftp target.
func NewSFTP() engine.Plugin {
	return &SFTP{dial: func(cfg *ssh.Config) (ssh.Transport, error) {
		return ssh.NewSSHClient(cfg)
	}}
}

// Init decodes and checks the configuration.
func (s *SFTP) Init(_ context.Context, profile engine.ProfileConfig) error {
	cfg := SFTPConfig{Port: 22}
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	policy, err := parsePolicy(profile, cfg.Retention)
	if err != nil {
		return err
	}

	sc := ssh.DefaultConfig(cfg.Hostname, cfg.Username)
	sc.Port = cfg.Port
	sc.Password = cfg.Password
	sc.KeyFiles = cfg.KeyFilename
	sc.StrictHostKeyChecking = cfg.StrictHostKeyChecking
	if cfg.KnownHosts != "" {
		sc.KnownHostsPath = ssh.ExpandHome(cfg.KnownHosts)
	}
	if cfg.Timeout > 0 {
		sc.ConnectionTimeout = time.Duration(cfg.Timeout) * time.Second
	}

	s.name = profile.Name
	s.cfg = cfg
	s.ssh = sc
	s.policy = policy
	return nil
}

// Run connects, prunes and uploads root.
func (s *SFTP) Run(ctx context.Context, root string) error {
	client, err := s.dial(s.ssh)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", s.ssh.Address(), err)
	}
	store := sftpStore{client}
	defer store.Close()

	remoteRoot, err := store.Resolve(s.cfg.RemoteFolder)
	if err != nil {
		return err
	}
	d := delivery{
		name:         s.name,
		root:         remoteRoot,
		policy:       s.policy,
		dryRun:       s.cfg.DryRun,
		isPermission: ssh.IsPermission,
	}
	return d.deliver(ctx, store, root)
}

type sftpStore struct {
	ssh.Transport
}

// Resolve keeps relative folders relative; the server anchors them in the
// login directory.
func (s sftpStore) Resolve(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	return path.Clean(p), nil
}

func (s sftpStore) MakeDirAll(dir string) error {
	if dir == "." {
		return nil
	}
	return s.MkdirAll(dir)
}

func (s sftpStore) Upload(ctx context.Context, localDir, remoteDir string, dryRun bool) error {
	if !dryRun {
		return s.UploadDirectory(ctx, localDir, remoteDir)
	}
	logger := zerolog.Ctx(ctx)
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))
		if info.IsDir() {
			return s.MkdirAll(target)
		}
		logger.Info().Str("file", rel).Str("remote", target).Msg("dry run: would upload")
		return nil
	})
}

func (s sftpStore) Close() error {
	return s.Disconnect()
}
