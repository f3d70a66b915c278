package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"

	"github.com/pickup-backup/pickup/pkg/engine"
)

// EnvPrefix marks environment variables that override configuration keys.
const EnvPrefix = "PICKUP_"

// extensions are tried in order when the configured path does not exist.
var extensions = []string{".yaml", ".yml", ".toml", ".json"}

var validate = validator.New()

func defaults() map[string]any {
	return map[string]any{
		"FIRST_TARGET_IS_STAGING": false,
		"TRACING.exporter":        "none",
	}
}

// Load reads, version-checks and validates the configuration at path. The
// path may omit its extension; the user config directory is searched for
// bare file names. Every error returned is fatal.
func Load(path string) (*Config, error) {
	resolved, err := Resolve(path)
	if err != nil {
		return nil, engine.NewFatalError("failed to load the config", err).
			WithResource(path).
			WithCode(engine.ErrCodeNotFound)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, engine.NewFatalError("failed to load config defaults", err)
	}
	if err := k.Load(file.Provider(resolved), parserFor(resolved)); err != nil {
		return nil, engine.NewFatalError("failed to parse the config", err).WithResource(resolved)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, engine.NewFatalError("failed to load environment overrides", err)
	}

	return fromKoanf(k, resolved)
}

func fromKoanf(k *koanf.Koanf, source string) (*Config, error) {
	for _, key := range []string{"GENERATORS", "TARGETS"} {
		if !k.Exists(key) {
			return nil, engine.NewFatalError(fmt.Sprintf("variable %q not found in config", key), nil).
				WithResource(source).
				WithCode(engine.ErrCodeValidation)
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, engine.NewFatalError("failed to decode the config", err).WithResource(source)
	}
	cfg.Path = source

	if err := checkVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, engine.NewFatalError("invalid config", err).
			WithResource(source).
			WithCode(engine.ErrCodeValidation)
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile()
	}
	return &cfg, nil
}

func checkVersion(cfg *Config) error {
	if len(cfg.Version) == 0 {
		log.Warn().Stringer("assumed", assumedVersion).
			Msg("the config file does not specify CONFIG_VERSION, trying to continue anyway")
	} else if len(cfg.Version) != 2 {
		return engine.NewFatalError("CONFIG_VERSION must be a [major, minor] pair", nil).
			WithResource(cfg.Path).
			WithCode(engine.ErrCodeValidation)
	}

	declared := cfg.ConfigVersion()
	switch declared.CompareTo(ExpectedVersion) {
	case engine.IncompatibleMajor:
		return engine.NewFatalError(
			fmt.Sprintf("the config format has undergone a major change (found %s, expected %s), cannot continue without an upgrade",
				declared, ExpectedVersion), nil).
			WithResource(cfg.Path).
			WithCode(engine.ErrCodeVersionMismatch)
	case engine.CompatibleOlderMinor:
		log.Warn().Stringer("found", declared).Stringer("expected", ExpectedVersion).
			Msg("the config format has undergone a minor change, it should work but review the docs")
	case engine.Compatible:
		log.Debug().Stringer("version", declared).Msg("config version OK")
	}
	return nil
}

// Resolve finds the configuration file for path. An existing path is used
// as-is; otherwise the known extensions are appended, and for a bare file
// name the pickup directory below the XDG config dirs is searched as well.
func Resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("no config path given")
	}

	candidates := []string{path}
	for _, ext := range extensions {
		candidates = append(candidates, path+ext)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	if filepath.Base(path) == path {
		for _, c := range candidates {
			if found, err := xdg.SearchConfigFile(filepath.Join("pickup", c)); err == nil {
				return found, nil
			}
		}
	}
	return "", fmt.Errorf("no config file found for %q (tried %s)", path, strings.Join(candidates, ", "))
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Parser()
	}
	// JSON is valid YAML.
	return yaml.Parser()
}

// envKey maps PICKUP_STAGING_AREA to STAGING_AREA and
// PICKUP_TRACING__EXPORTER to TRACING.exporter.
func envKey(s string) string {
	parts := strings.Split(strings.TrimPrefix(s, EnvPrefix), "__")
	for i := 1; i < len(parts); i++ {
		parts[i] = strings.ToLower(parts[i])
	}
	return strings.Join(parts, ".")
}
