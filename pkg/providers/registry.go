// Package providers resolves symbolic profile names to plugin instances.
//
// The registry is an explicit map from (kind, profile name) to a factory. It
// is populated at process start with the built-in plugins plus any extensions
// registered by the caller; nothing is discovered by reflection.
package providers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pickup-backup/pickup/pkg/engine"
)

// Factory creates a fresh, uninitialized plugin instance.
type Factory func() engine.Plugin

// Info describes a registered plugin.
type Info struct {
	Kind          engine.PluginKind  `json:"kind" yaml:"kind"`
	Name          string             `json:"name" yaml:"name"`
	APIVersion    *engine.APIVersion `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	FolderCapable bool               `json:"folder_capable" yaml:"folder_capable"`
}

// Registry implements engine.Loader.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// factories maps kind and profile name to a factory.
	factories map[engine.PluginKind]map[string]Factory

	// expected is the API version plugins are checked against.
	expected engine.APIVersion

	logger zerolog.Logger
}

// NewRegistry creates an empty registry expecting engine.ExpectedAPIVersion.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[engine.PluginKind]map[string]Factory{
			engine.KindGenerator: {},
			engine.KindTarget:    {},
		},
		expected: engine.ExpectedAPIVersion,
		logger:   log.With().Str("component", "registry").Logger(),
	}
}

// SetExpectedVersion overrides the API version plugins are checked against.
func (r *Registry) SetExpectedVersion(v engine.APIVersion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected = v
}

// Register adds a plugin factory under kind and name.
func (r *Registry) Register(kind engine.PluginKind, name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("plugin %s/%s: factory is nil", kind, name)
	}
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.factories[kind]
	if !ok {
		return fmt.Errorf("unknown plugin kind %q", kind)
	}
	if _, exists := byName[name]; exists {
		return engine.NewLoadError(fmt.Sprintf("plugin %s/%s already registered", kind, name), nil).
			WithCode(engine.ErrCodeAlreadyExists)
	}
	byName[name] = factory
	return nil
}

// MustRegister is Register for the fixed built-in set; it panics on error.
func (r *Registry) MustRegister(kind engine.PluginKind, name string, factory Factory) {
	if err := r.Register(kind, name, factory); err != nil {
		panic(err)
	}
}

// Resolve creates an uninitialized instance of the named plugin.
func (r *Registry) Resolve(kind engine.PluginKind, name string) (engine.Plugin, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind][name]
	r.mu.RUnlock()

	if !ok {
		return nil, engine.NewLoadError(fmt.Sprintf("no %s plugin registered", kind), nil).
			WithResource(name).
			WithCode(engine.ErrCodeNotFound)
	}
	return factory(), nil
}

// CheckCompatibility reports whether the plugin may run. A plugin without a
// declared API version or with a different major version is rejected; an
// older minor version only logs a warning.
func (r *Registry) CheckCompatibility(name string, p engine.Plugin) bool {
	return r.checkCompatibility(name, p) == nil
}

func (r *Registry) checkCompatibility(name string, p engine.Plugin) error {
	r.mu.RLock()
	expected := r.expected
	r.mu.RUnlock()

	versioned, ok := p.(engine.Versioned)
	if !ok {
		r.logger.Error().Str("plugin", name).Msg("plugin does not specify an API version, skipping")
		return engine.NewLoadError("plugin does not specify an API version", nil).
			WithResource(name).
			WithCode(engine.ErrCodeMissingVersion)
	}

	declared := versioned.APIVersion()
	switch declared.CompareTo(expected) {
	case engine.IncompatibleMajor:
		r.logger.Error().
			Str("plugin", name).
			Stringer("declared", declared).
			Stringer("expected", expected).
			Msg("plugin is out of date (major API version mismatch), skipping")
		return engine.NewLoadError(
			fmt.Sprintf("major API version %d, expected %d", declared.Major, expected.Major), nil).
			WithResource(name).
			WithCode(engine.ErrCodeVersionMismatch)
	case engine.CompatibleOlderMinor:
		r.logger.Warn().
			Str("plugin", name).
			Stringer("declared", declared).
			Stringer("expected", expected).
			Msg("plugin is out of date (minor API version), continuing anyway")
	}
	return nil
}

// Instantiate calls the plugin's Init with the full profile configuration.
// Errors and panics raised by Init are converted into runtime errors.
func (r *Registry) Instantiate(ctx context.Context, p engine.Plugin, profile engine.ProfileConfig) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug().Bytes("stack", debug.Stack()).Msg("plugin init panicked")
			err = engine.NewRuntimeError(fmt.Sprintf("init panicked: %v", rec), nil).
				WithResource(profile.Name).
				WithOperation("init").
				WithCode(engine.ErrCodePanic)
		}
	}()

	if initErr := p.Init(ctx, profile); initErr != nil {
		return engine.NewRuntimeError("init failed", initErr).
			WithResource(profile.Name).
			WithOperation("init").
			WithCode(engine.ErrCodePluginFailed)
	}
	return nil
}

// Load resolves, version-checks and initializes the plugin for profile.
func (r *Registry) Load(ctx context.Context, kind engine.PluginKind, profile engine.ProfileConfig) (engine.Plugin, error) {
	r.logger.Debug().Str("name", profile.Name).Str("profile", profile.Profile).Msg("loading profile")

	p, err := r.Resolve(kind, profile.Profile)
	if err != nil {
		return nil, err
	}
	if err := r.checkCompatibility(profile.Profile, p); err != nil {
		return nil, err
	}
	if err := r.Instantiate(ctx, p, profile); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns every registered plugin sorted by kind and name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []Info
	for kind, byName := range r.factories {
		for name, factory := range byName {
			p := factory()
			info := Info{Kind: kind, Name: name}
			if v, ok := p.(engine.Versioned); ok {
				declared := v.APIVersion()
				info.APIVersion = &declared
			}
			_, info.FolderCapable = p.(engine.FolderProvider)
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Kind != infos[j].Kind {
			return infos[i].Kind < infos[j].Kind
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}
