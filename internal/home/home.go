package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the castwright home directory.
	DefaultDirName = ".castwright"

	// LedgerFileName is the SQLite ledger database.
	LedgerFileName = "ledger.db"

	// ContentDirName holds generated text, one JSON document per unit.
	ContentDirName = "content"

	// AudioDirName holds synthesized parts and final unit audio.
	AudioDirName = "audio"

	// ScratchDirName holds temporary stitch inputs.
	ScratchDirName = "scratch"

	// LocksDirName holds per-unit stitch lock files.
	LocksDirName = "locks"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the castwright home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.castwright).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// LedgerPath returns the path to the ledger database.
func (d *Dir) LedgerPath() string {
	return filepath.Join(d.path, LedgerFileName)
}

// ContentDir returns the root of the content store.
func (d *Dir) ContentDir() string {
	return filepath.Join(d.path, ContentDirName)
}

// AudioDir returns the root of the audio store.
func (d *Dir) AudioDir() string {
	return filepath.Join(d.path, AudioDirName)
}

// ScratchDir returns the directory for temporary stitch files.
func (d *Dir) ScratchDir() string {
	return filepath.Join(d.path, ScratchDirName)
}

// LocksDir returns the directory for stitch lock files.
func (d *Dir) LocksDir() string {
	return filepath.Join(d.path, LocksDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.ContentDir(), d.AudioDir(), d.ScratchDir(), d.LocksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// Resolve returns override when set, otherwise def. Storage settings use it so
// an empty config value falls back to the home layout.
func Resolve(override, def string) string {
	if override != "" {
		return override
	}
	return def
}
