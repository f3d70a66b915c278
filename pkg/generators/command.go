package generators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/engine"
)

// CommandConfig configures the command generator.
type CommandConfig struct {
	Command       string            `mapstructure:"command" validate:"required"`
	ReturnCodesOK []int             `mapstructure:"returncodes_ok"`
	Cwd           string            `mapstructure:"cwd"`
	Env           map[string]string `mapstructure:"env"`
}

// Command captures the output of a local command into stdout.txt and
// stderr.txt.
type Command struct {
	versioned
	cfg  CommandConfig
	argv []string
}

// NewCommand creates an uninitialized command generator.
func NewCommand() engine.Plugin {
	return &Command{}
}

// Init decodes and checks the configuration.
func (c *Command) Init(_ context.Context, profile engine.ProfileConfig) error {
	cfg := CommandConfig{ReturnCodesOK: []int{0}}
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	argv, err := shlex.Split(cfg.Command)
	if err != nil {
		return fmt.Errorf("split command %q: %w", cfg.Command, err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("command %q is empty", cfg.Command)
	}
	c.cfg = cfg
	c.argv = argv
	return nil
}

// Run executes the command. An exit code outside returncodes_ok is an error
// carrying the captured stderr.
func (c *Command) Run(ctx context.Context, path string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Strs("argv", c.argv).Msg("capturing command output")

	stdout, err := os.Create(filepath.Join(path, "stdout.txt"))
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderrPath := filepath.Join(path, "stderr.txt")
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = c.cfg.Cwd
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(c.cfg.Env)...)
	}

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("run %s: %w", c.argv[0], err)
		}
		code = exitErr.ExitCode()
	}

	if !slices.Contains(c.cfg.ReturnCodesOK, code) {
		_ = stderr.Sync()
		msg, _ := os.ReadFile(stderrPath)
		return fmt.Errorf("%s terminated with unexpected return code %d: %s",
			c.argv[0], code, strings.TrimSpace(string(msg)))
	}
	logger.Info().Int("code", code).Msg("command finished")
	return nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
