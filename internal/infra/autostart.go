package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// desktopEntryTemplate is an XDG autostart entry that launches the daemon
// when the user's desktop session starts.
const desktopEntryTemplate = `[Desktop Entry]
Type=Application
Name=automute
Comment=Mute background applications
Exec={{.ExecutablePath}} start
Terminal=false
NoDisplay=true
X-GNOME-Autostart-enabled=true
`

type desktopEntryConfig struct {
	ExecutablePath string
}

// Autostart manages the XDG autostart entry for automute.
type Autostart struct {
	dir  string
	path string
}

// NewAutostart creates a manager for $XDG_CONFIG_HOME/autostart.
func NewAutostart() *Autostart {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(RealUserHome(), ".config")
	}
	return NewAutostartInDir(filepath.Join(configHome, "autostart"))
}

// NewAutostartInDir creates a manager writing into dir (for testing).
func NewAutostartInDir(dir string) *Autostart {
	return &Autostart{dir: dir, path: filepath.Join(dir, "automute.desktop")}
}

// Path returns the desktop entry location.
func (a *Autostart) Path() string {
	return a.path
}

func (a *Autostart) render(execPath string) ([]byte, error) {
	tmpl, err := template.New("desktop").Parse(desktopEntryTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse desktop entry template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, desktopEntryConfig{ExecutablePath: execPath}); err != nil {
		return nil, fmt.Errorf("failed to execute desktop entry template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the entry for execPath, replacing any existing one.
func (a *Autostart) Install(execPath string) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return err
	}
	content, err := a.render(execPath)
	if err != nil {
		return err
	}
	return os.WriteFile(a.path, content, 0644)
}

// Uninstall removes the entry. Missing entries are not an error.
func (a *Autostart) Uninstall() error {
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsInstalled checks if the entry exists.
func (a *Autostart) IsInstalled() bool {
	_, err := os.Stat(a.path)
	return err == nil
}

// NeedsUpdate reports whether an installed entry points somewhere other
// than execPath.
func (a *Autostart) NeedsUpdate(execPath string) bool {
	if !a.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(a.path)
	if err != nil {
		return true
	}
	expected, err := a.render(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}
