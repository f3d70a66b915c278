package retention

import (
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"
)

// Tree is hierarchical remote storage whose entries may be files or
// directories, such as an FTP or SFTP server.
type Tree interface {
	// Delete removes a single file.
	Delete(p string) error
	// List returns the names of the direct children of dir.
	List(dir string) ([]string, error)
	// RemoveDir removes an empty directory.
	RemoveDir(dir string) error
}

// PermissionFunc reports whether err is the kind of failure a plain file
// delete returns when the entry is actually a directory.
type PermissionFunc func(err error) bool

// RemoveTree deletes p from t. A plain delete is attempted first; on a
// permission-style failure p is treated as a directory, its children are
// removed recursively and the directory itself is removed. If that fails too
// the entry is left in place and the error is returned.
func RemoveTree(t Tree, p string, isPermission PermissionFunc) error {
	err := t.Delete(p)
	if err == nil {
		return nil
	}
	if !isPermission(err) {
		return fmt.Errorf("delete %s: %w", p, err)
	}

	log.Debug().Str("path", p).Msg("recursively deleting")
	children, listErr := t.List(p)
	if listErr != nil {
		return fmt.Errorf("delete %s: %w", p, errors.Join(err, listErr))
	}
	for _, child := range children {
		name := path.Base(child)
		if name == "." || name == ".." {
			continue
		}
		if childErr := RemoveTree(t, path.Join(p, name), isPermission); childErr != nil {
			// Probably neither a file nor a directory we may touch; the
			// directory removal below reports the leftover.
			log.Warn().Err(childErr).Str("path", path.Join(p, name)).Msg("could not delete entry")
		}
	}
	if rmErr := t.RemoveDir(p); rmErr != nil {
		return fmt.Errorf("remove directory %s: %w", p, rmErr)
	}
	return nil
}
