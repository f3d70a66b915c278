// Package staging allocates the filesystem tree that holds generator output
// for one run and removes it afterwards.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Placeholder replaces every character that is not safe in a folder name.
const Placeholder = "_"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ErrNotADirectory is returned when the staging root exists as a non-directory.
type ErrNotADirectory struct {
	Path string
}

func (e *ErrNotADirectory) Error() string {
	return fmt.Sprintf("staging path %q exists and is not a directory", e.Path)
}

// Area is the staging tree of one run.
type Area struct {
	root      string
	external  bool
	allocated map[string]bool
}

// CheckPath fails if path exists but is not a directory. A missing path is fine.
func CheckPath(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat staging path: %w", err)
	}
	if !info.IsDir() {
		return &ErrNotADirectory{Path: path}
	}
	return nil
}

// AllocateRoot prepares the staging root.
//
// When external is true, path is used as-is (created if missing) and the area
// is never torn down: the target that supplied it owns its lifecycle.
// Otherwise a fresh directory is created below path, or below the OS temp
// directory when path is empty.
func AllocateRoot(path string, external bool) (*Area, error) {
	if external && path == "" {
		return nil, fmt.Errorf("external staging root requires a path")
	}
	if err := CheckPath(path); err != nil {
		return nil, err
	}

	var root string
	if external {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create staging root: %w", err)
		}
		root = path
	} else {
		parent := path
		if parent != "" {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, fmt.Errorf("create staging parent: %w", err)
			}
		}
		dir, err := os.MkdirTemp(parent, "pickup-")
		if err != nil {
			return nil, fmt.Errorf("create staging root: %w", err)
		}
		root = dir
	}

	abs, err := filepath.Abs(root)
	if err == nil {
		root = abs
	}

	log.Debug().Str("root", root).Bool("external", external).Msg("staging area ready")
	return &Area{root: root, external: external, allocated: make(map[string]bool)}, nil
}

// Root returns the staging root directory.
func (a *Area) Root() string {
	return a.root
}

// External reports whether the root was supplied by a target.
func (a *Area) External() bool {
	return a.external
}

// SafeName derives a filesystem-safe folder name from a display name.
func SafeName(name string) string {
	safe := unsafeChars.ReplaceAllString(name, Placeholder)
	safe = strings.Trim(safe, Placeholder)
	if safe == "" {
		return "unnamed"
	}
	return safe
}

// AllocateSubfolder creates <root>/<group>/<safe name> for a plugin and
// returns it. If the folder already exists a numeric suffix is appended
// ("X-1", "X-2", ...) until the name is free, so two profiles with the same
// display name never share output.
func (a *Area) AllocateSubfolder(group, name string) (string, error) {
	parent := filepath.Join(a.root, SafeName(group))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create staging group %q: %w", group, err)
	}

	base := filepath.Join(parent, SafeName(name))
	candidate := base
	for counter := 1; ; counter++ {
		if !a.allocated[candidate] {
			err := os.Mkdir(candidate, 0o755)
			if err == nil {
				break
			}
			if !os.IsExist(err) {
				return "", fmt.Errorf("create staging folder: %w", err)
			}
		}
		log.Debug().Str("path", candidate).Msg("staging folder exists, adding a counter")
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}

	a.allocated[candidate] = true
	return candidate, nil
}

// Discard removes a subfolder whose contents were abandoned.
func (a *Area) Discard(path string) error {
	rel, err := filepath.Rel(a.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to discard %q outside staging root", path)
	}
	return os.RemoveAll(path)
}

// Teardown recursively removes the staging root unless it was supplied
// externally.
func (a *Area) Teardown() error {
	if a.external {
		log.Debug().Str("root", a.root).Msg("staging root is external, skipping teardown")
		return nil
	}
	if err := os.RemoveAll(a.root); err != nil {
		return fmt.Errorf("remove staging root: %w", err)
	}
	return nil
}
