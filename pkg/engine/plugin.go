package engine

import (
	"context"
	"fmt"
)

// PluginKind distinguishes data producers from data consumers.
type PluginKind string

const (
	// KindGenerator plugins produce backup data into a staging subfolder.
	KindGenerator PluginKind = "generator"

	// KindTarget plugins deliver the whole staging area to a destination.
	KindTarget PluginKind = "target"
)

// ExpectedAPIVersion is the plugin API version this engine implements.
var ExpectedAPIVersion = APIVersion{Major: 2, Minor: 0}

// APIVersion is an ordered (major, minor) compatibility marker.
// Major changes are breaking, minor changes are additive.
type APIVersion struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
}

// String renders the version as "major.minor".
func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatibility is the outcome of comparing a declared version to an expected one.
type Compatibility int

const (
	// Compatible means the versions are identical.
	Compatible Compatibility = iota
	// CompatibleNewerMinor means the plugin is ahead on minor; accepted silently.
	CompatibleNewerMinor
	// CompatibleOlderMinor means the plugin is behind on minor; accepted with a warning.
	CompatibleOlderMinor
	// IncompatibleMajor means the major versions differ; the plugin is rejected.
	IncompatibleMajor
)

// Accepted reports whether a plugin with this compatibility may run.
func (c Compatibility) Accepted() bool {
	return c != IncompatibleMajor
}

// CompareTo classifies v against the expected version.
func (v APIVersion) CompareTo(expected APIVersion) Compatibility {
	switch {
	case v.Major != expected.Major:
		return IncompatibleMajor
	case v.Minor < expected.Minor:
		return CompatibleOlderMinor
	case v.Minor > expected.Minor:
		return CompatibleNewerMinor
	default:
		return Compatible
	}
}

// ProfileConfig is one entry of the GENERATORS or TARGETS list.
type ProfileConfig struct {
	// Name is the human readable display name of the profile.
	Name string `koanf:"name" json:"name" yaml:"name" validate:"required"`

	// Profile is the symbolic plugin id, e.g. "mysql" or "dailyfolder".
	Profile string `koanf:"profile" json:"profile" yaml:"profile" validate:"required"`

	// Config is the plugin specific configuration.
	Config map[string]any `koanf:"config" json:"config,omitempty" yaml:"config,omitempty"`
}

// Plugin is the capability set every generator and target must expose.
//
// Init receives the full profile configuration and must be idempotent.
// Run receives a staging subfolder (generators) or the staging root (targets).
type Plugin interface {
	Init(ctx context.Context, profile ProfileConfig) error
	Run(ctx context.Context, path string) error
}

// Versioned is implemented by plugins that declare their API version.
// A plugin that does not implement it is rejected by the registry.
type Versioned interface {
	APIVersion() APIVersion
}

// FolderProvider is implemented by targets that store backups in a local
// folder. Only such targets can be used in first-target-is-staging mode.
type FolderProvider interface {
	Folder() (string, error)
}

// Loader resolves, version-checks and initializes plugins.
type Loader interface {
	Load(ctx context.Context, kind PluginKind, profile ProfileConfig) (Plugin, error)
}
