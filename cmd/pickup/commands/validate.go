package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pickup-backup/pickup/pkg/config"
	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/providers"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without running a backup",
		Long: `Validate loads the configuration and initializes every configured profile,
exactly as a run would, but neither takes the lock nor touches the staging
area. No plugin is run.

This command checks:
  - config file syntax and CONFIG_VERSION
  - that every profile names a registered plugin with a compatible API version
  - that every plugin accepts its config block`,
		Example: `  # Validate ./config.yaml
  pickup validate

  # Print the configuration as pickup understands it
  pickup validate --dump -c /etc/pickup/config.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := consoleLogger(cmd, opts); err != nil {
				return engine.NewFatalError("could not set up logging", err)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			registry := providers.NewBuiltinRegistry()
			invalid := 0
			check := func(kind engine.PluginKind, profiles []engine.ProfileConfig) {
				for _, p := range profiles {
					ctx := log.With().Str("kind", string(kind)).Str("name", p.Name).Str("profile", p.Profile).
						Logger().WithContext(cmd.Context())
					if _, err := registry.Load(ctx, kind, p); err != nil {
						invalid++
						log.Error().Err(err).Str("kind", string(kind)).Str("name", p.Name).Msg("invalid profile")
						continue
					}
					log.Info().Str("kind", string(kind)).Str("name", p.Name).Str("profile", p.Profile).Msg("profile OK")
				}
			}
			check(engine.KindGenerator, cfg.Generators)
			check(engine.KindTarget, cfg.Targets)

			if dump {
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("render config: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
			}

			if invalid > 0 {
				return fmt.Errorf("%d profile(s) are invalid", invalid)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "print the loaded configuration as YAML")

	return cmd
}
