// Package generators contains the built-in generator plugins. Each one pulls
// data from a source into the staging subfolder it is given.
//
//	command     output of a local command
//	folder      tarball(s) of a local directory
//	mysql       mysqldump of one or all databases
//	postgres    pg_dumpall globals plus pg_dump of one or all databases
//	remote_tar  tarball created on a remote host over SSH
package generators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/archive"
	"github.com/pickup-backup/pickup/pkg/config"
	"github.com/pickup-backup/pickup/pkg/engine"
)

// APIVersion is the plugin API every built-in generator implements.
var APIVersion = engine.APIVersion{Major: 2, Minor: 0}

type versioned struct{}

func (versioned) APIVersion() engine.APIVersion { return APIVersion }

func decode(profile engine.ProfileConfig, out any) error {
	if err := config.Decode(profile.Config, out); err != nil {
		return fmt.Errorf("profile %q: %w", profile.Name, err)
	}
	return nil
}

// uniquePath returns dir/base+ext, adding -1, -2, ... to base while the
// name is taken.
func uniquePath(dir, base, ext string) string {
	candidate := filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}
}

// dumpCommand describes an external program whose stdout is a backup.
type dumpCommand struct {
	Name string
	Args []string
	Env  []string
}

func (c dumpCommand) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// runDump streams the stdout of cmd through the compressor into dest. On
// failure the partial file is removed and the error carries stderr.
func runDump(ctx context.Context, cmd dumpCommand, dest string, comp archive.Compression) error {
	logger := zerolog.Ctx(ctx)

	out, err := archive.Create(dest, comp)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	var stderr bytes.Buffer
	c.Stdout = out
	c.Stderr = &stderr

	logger.Debug().Str("command", cmd.String()).Str("file", dest).Msg("running dump")
	if err := c.Run(); err != nil {
		out.Abort()
		return fmt.Errorf("%s: %w: %s", cmd.Name, err, strings.TrimSpace(stderr.String()))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		logger.Warn().Str("command", cmd.Name).Str("stderr", msg).Msg("dump wrote to stderr")
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", dest, err)
	}
	logger.Info().Str("file", dest).Msg("dump written")
	return nil
}

// joinFailures aggregates the failed dumps of one run.
func joinFailures(what string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d dump(s) failed: %w", what, len(errs), errors.Join(errs...))
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
