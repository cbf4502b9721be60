// Package proposerdir encapsulates all path knowledge for the .proposer/
// workspace directory. It provides a Dir value object with accessors for the
// settings file, the templates file, and the logs and screenshots directories.
package proposerdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a value object that resolves paths within a .proposer/ directory.
type Dir struct {
	root string
}

// New creates a Dir rooted at the given path. The path is converted to an
// absolute path. No I/O is performed; use EnsureStructure to create the
// directory layout.
func New(root string) Dir {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	return Dir{root: abs}
}

// Root returns the absolute path to the .proposer/ directory.
func (d Dir) Root() string { return d.root }

// SettingsPath returns the path to the settings file.
func (d Dir) SettingsPath() string { return filepath.Join(d.root, "settings.yaml") }

// TemplatesPath returns the path to the templates file.
func (d Dir) TemplatesPath() string { return filepath.Join(d.root, "templates.json") }

// LegacyTemplatePath returns the path of the old single-template text file.
func (d Dir) LegacyTemplatePath() string { return filepath.Join(d.root, "template.txt") }

// LogsDir returns the path to the logs directory.
func (d Dir) LogsDir() string { return filepath.Join(d.root, "logs") }

// LogPath returns the path to the application log file.
func (d Dir) LogPath() string { return filepath.Join(d.root, "logs", "proposer.log") }

// ScreenshotsDir returns the path to the error screenshots directory.
func (d Dir) ScreenshotsDir() string { return filepath.Join(d.root, "logs", "screenshots") }

// ProfileDir returns the Chrome user data directory used when proposer
// launches the browser itself.
func (d Dir) ProfileDir() string { return filepath.Join(d.root, "chrome-profile") }

// GitignorePath returns the path to the .gitignore file inside .proposer/.
func (d Dir) GitignorePath() string { return filepath.Join(d.root, ".gitignore") }

// Exists reports whether the .proposer/ root directory exists on disk.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.root)

	return err == nil && info.IsDir()
}

const gitignoreContent = "logs/\nchrome-profile/\n"

// EnsureStructure creates the root, logs/ and logs/screenshots/ directories
// and the .gitignore file if they are missing. It is idempotent.
func EnsureStructure(d Dir) error {
	if err := os.MkdirAll(d.ScreenshotsDir(), 0o750); err != nil {
		return fmt.Errorf("proposerdir: create logs dir: %w", err)
	}

	if _, err := os.Stat(d.GitignorePath()); err == nil {
		return nil
	}

	if err := os.WriteFile(d.GitignorePath(), []byte(gitignoreContent), 0o600); err != nil {
		return fmt.Errorf("proposerdir: gitignore: %w", err)
	}

	return nil
}
