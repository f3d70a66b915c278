package generators

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/transports/ssh"
)

// RemoteTarConfig configures the remote_tar generator.
type RemoteTarConfig struct {
	Hostname              string   `mapstructure:"hostname" validate:"required"`
	Port                  int      `mapstructure:"port" validate:"min=1,max=65535"`
	Username              string   `mapstructure:"username" validate:"required"`
	Password              string   `mapstructure:"password"`
	KeyFilename           []string `mapstructure:"key_filename"`
	KnownHosts            string   `mapstructure:"known_hosts"`
	StrictHostKeyChecking bool     `mapstructure:"strict_host_key_checking"`
	Timeout               int      `mapstructure:"timeout" validate:"min=0"`
	TarParams             string   `mapstructure:"tar_params" validate:"required"`
	TargetFilename        string   `mapstructure:"target_filename" validate:"required"`
	Tmpfolder             string   `mapstructure:"tmpfolder"`
}

// RemoteTar runs tar on a remote host, writes the archive to a temporary
// file there and downloads it over SFTP. The remote file is always removed.
type RemoteTar struct {
	versioned
	cfg  RemoteTarConfig
	ssh  *ssh.Config
	dial func(*ssh.Config) (ssh.Transport, error)
}

// NewRemoteTar creates an uninitialized remote_tar generator.
func NewRemoteTar() engine.Plugin {
	return &RemoteTar{dial: dialSSH}
}

func dialSSH(cfg *ssh.Config) (ssh.Transport, error) {
	return ssh.NewSSHClient(cfg)
}

// Init decodes and checks the configuration.
func (r *RemoteTar) Init(_ context.Context, profile engine.ProfileConfig) error {
	cfg := RemoteTarConfig{Port: 22}
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	if strings.ContainsAny(cfg.TargetFilename, `/\`) {
		return fmt.Errorf("target_filename %q must be a plain file name", cfg.TargetFilename)
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

	r.cfg = cfg
	r.ssh = sc
	return nil
}

// Run fetches the remote tarball into path/target_filename.
func (r *RemoteTar) Run(ctx context.Context, path string) error {
	logger := zerolog.Ctx(ctx).With().Str("host", r.ssh.Address()).Logger()

	client, err := r.dial(r.ssh)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", r.ssh.Address(), err)
	}
	defer client.Disconnect()

	mktemp := "mktemp"
	if r.cfg.Tmpfolder != "" {
		mktemp = "mktemp --tmpdir=" + shellQuote(r.cfg.Tmpfolder)
	}
	tmp, stderr, err := client.ExecuteCommand(ctx, mktemp)
	if err != nil {
		return fmt.Errorf("create remote temp file: %w", err)
	}
	if tmp == "" {
		return fmt.Errorf("create remote temp file: mktemp printed nothing: %s", stderr)
	}

	defer func() {
		// ctx may already be cancelled; cleanup gets its own deadline.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, _, rmErr := client.ExecuteCommand(cleanupCtx, "rm -f "+shellQuote(tmp)); rmErr != nil {
			logger.Warn().Err(rmErr).Str("file", tmp).Msg("could not remove remote temp file")
		}
	}()

	tarCmd := "tar " + r.cfg.TarParams + " > " + shellQuote(tmp)
	logger.Info().Str("command", tarCmd).Msg("creating remote tarball")
	if _, stderr, err := client.ExecuteCommand(ctx, tarCmd); err != nil {
		return fmt.Errorf("remote tar: %w", err)
	} else if stderr != "" {
		logger.Warn().Str("stderr", stderr).Msg("tar wrote to stderr")
	}

	dest := filepath.Join(path, r.cfg.TargetFilename)
	logger.Info().Str("remote", tmp).Str("file", dest).Msg("downloading tarball")
	if err := client.DownloadFile(ctx, tmp, dest); err != nil {
		return fmt.Errorf("download %s: %w", tmp, err)
	}
	return nil
}
