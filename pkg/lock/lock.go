// Package lock implements the single-instance process lock. The presence of
// the lock file is the lock; it holds the PID of the owning process.
//
// A process killed between Acquire and Release leaves the file behind. Such a
// stale lock is not detected automatically and must be removed by an operator.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ConflictError is returned when the lock file already exists.
type ConflictError struct {
	Path string
	// PID is the process id read from the existing file, or 0 if unreadable.
	PID int
}

func (e *ConflictError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("lock file %s exists (held by pid %d); is the process still running?", e.Path, e.PID)
	}
	return fmt.Sprintf("lock file %s exists; is the process still running?", e.Path)
}

// File is a held lock.
type File struct {
	path string
	pid  int
	mu   sync.Mutex
	held bool
}

// DefaultPath returns the OS specific well-known lock file location.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "pickup", "pickup.pid")
		}
	}
	return "/var/run/pickup.pid"
}

// Acquire atomically creates the lock file at path and writes the current PID
// into it. It fails with *ConflictError if the file already exists.
func Acquire(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &ConflictError{Path: path, PID: readPID(path)}
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	pid := os.Getpid()
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close lock file: %w", err)
	}

	log.Info().Str("path", path).Int("pid", pid).Msg("lock acquired")
	return &File{path: path, pid: pid, held: true}, nil
}

// Path returns the lock file location.
func (l *File) Path() string {
	return l.path
}

// PID returns the process id written into the lock file.
func (l *File) PID() int {
	return l.pid
}

// Release removes the lock file. Calling it more than once is harmless.
func (l *File) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false

	if err := os.Remove(l.path); err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", l.path).Msg("lock file did not exist on release")
			return nil
		}
		return fmt.Errorf("remove lock file: %w", err)
	}
	log.Info().Str("path", l.path).Msg("lock released")
	return nil
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
