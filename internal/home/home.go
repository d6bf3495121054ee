// Package home manages the exportstudio home directory layout.
//
// The home directory owns all persistent state: the SQLite database, generated
// job artifacts, and the optional archive drop directory.
//
// Layout:
//
//	<root>/
//	  exportstudio.db                  (conversations, messages, chunks, jobs)
//	  generated/
//	    conversations/<id>/<pattern>.* (job artifacts)
//	    projects/<gizmo-id>/<pattern>.*
//	  drop/                            (watched archive drop directory)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnvHome overrides the default home location when set.
const EnvHome = "EXPORTSTUDIO_HOME"

// Dir represents an exportstudio home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir honoring EXPORTSTUDIO_HOME, falling back to the
// platform-appropriate default location:
//   - Linux:   ~/.config/exportstudio
//   - macOS:   ~/Library/Application Support/exportstudio
//   - Windows: %APPDATA%/exportstudio
func Default() (Dir, error) {
	if root := os.Getenv(EnvHome); root != "" {
		return Dir{root: root}, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "exportstudio")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// DatabasePath returns the path to the SQLite database file.
func (d Dir) DatabasePath() string {
	return filepath.Join(d.root, "exportstudio.db")
}

// GeneratedDir returns the root directory for job artifacts.
func (d Dir) GeneratedDir() string {
	return filepath.Join(d.root, "generated")
}

// ArtifactDir returns the artifact directory for a job target.
// jobType is "conversation" or "project"; the on-disk segment is pluralized.
func (d Dir) ArtifactDir(jobType, targetID string) string {
	return filepath.Join(d.GeneratedDir(), jobType+"s", targetID)
}

// DropDir returns the default watched drop directory for export archives.
func (d Dir) DropDir() string {
	return filepath.Join(d.root, "drop")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// InstallID reads the persistent install identity from <root>/install_id.
// If the file doesn't exist, a new UUIDv7 is generated and written.
func (d Dir) InstallID() (string, error) {
	return d.readOrCreate("install_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is constructed from trusted home dir + constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: install-id file is not secret, 0640 is intentional
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
