package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultLogFile is the rotating log location used when LOG_FILE is unset.
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "pickup", "pickup.log")
}

