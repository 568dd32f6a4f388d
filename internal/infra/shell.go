package infra

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// ShellImpl implements domain.Shell with xdg-open and notify-send.
type ShellImpl struct {
	homeDir string
	run     func(name string, args ...string) error
}

// NewShell creates a desktop shell helper.
func NewShell() *ShellImpl {
	return &ShellImpl{homeDir: RealUserHome(), run: runDetached}
}

// NewShellWithHome creates a shell helper with a custom home and runner (for testing).
func NewShellWithHome(home string, run func(name string, args ...string) error) *ShellImpl {
	return &ShellImpl{homeDir: home, run: run}
}

// RevealFile opens the directory containing path in the file manager.
func (s *ShellImpl) RevealFile(path string) error {
	dir := filepath.Dir(s.ExpandHome(path))
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return s.run("xdg-open", dir)
}

// ShowAbout shows version information as a desktop notification.
func (s *ShellImpl) ShowAbout(info domain.AboutInfo) error {
	body := fmt.Sprintf("Version %s", info.Version)
	if info.Commit != "" {
		body += fmt.Sprintf(" (%s)", info.Commit)
	}
	if info.BuildTime != "" {
		body += "\nBuilt " + info.BuildTime
	}
	if info.Platform != "" {
		body += "\n" + info.Platform
	}
	return s.run("notify-send", "--app-name=automute", "About automute", body)
}

// ExpandHome expands ~ to the user's home directory.
func (s *ShellImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(s.homeDir, path[2:])
	}
	if path == "~" {
		return s.homeDir
	}
	return path
}

// runDetached starts a helper program without waiting for it.
func runDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Ensure ShellImpl implements domain.Shell.
var _ domain.Shell = (*ShellImpl)(nil)
