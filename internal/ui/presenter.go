// Package ui holds the user-facing state: the enabled flag and the list of
// recently focused programs. It renders nothing; toggles become core
// commands and every change is written to a state file read by
// `automute status`.
package ui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// Sender delivers a command to the core.
type Sender func(cmd domain.Command) bool

// RecentApp is one entry of the recent apps list.
type RecentApp struct {
	Path    domain.ProgramPath `json:"path"`
	Managed bool               `json:"managed"`
}

// Label returns the menu text for the entry, e.g. "Firefox (/usr/bin/firefox)".
func (a RecentApp) Label() string {
	return fmt.Sprintf("%s (%s)", AppName(a.Path), a.Path)
}

// State is the presenter's published state.
type State struct {
	Enabled       bool        `json:"enabled"`
	RecentApps    []RecentApp `json:"recent_apps"`
	MaxRecentApps int         `json:"max_recent_apps"`
	LastError     string      `json:"last_error,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Presenter implements domain.Presenter.
type Presenter struct {
	send      Sender
	statePath string
	logger    *zap.Logger

	mu    sync.Mutex
	state State
}

// NewPresenter creates a presenter. statePath may be empty to skip persistence.
func NewPresenter(send Sender, statePath string, logger *zap.Logger) *Presenter {
	return &Presenter{
		send:      send,
		statePath: statePath,
		logger:    logger,
		state: State{
			Enabled:       domain.DefaultEnabled,
			MaxRecentApps: domain.DefaultMaxRecentApps,
		},
	}
}

// AddRecentApp moves path to the front of the recent list.
func (p *Presenter) AddRecentApp(path domain.ProgramPath, managed bool) {
	p.update(func(s *State) {
		recent := make([]RecentApp, 0, len(s.RecentApps)+1)
		recent = append(recent, RecentApp{Path: path, Managed: managed})
		for _, app := range s.RecentApps {
			if !app.Path.Equal(path) {
				recent = append(recent, app)
			}
		}
		s.RecentApps = truncate(recent, s.MaxRecentApps)
	})
}

// UpdateFromConfig replaces the enabled flag and bound, and refreshes the
// managed marks of the recent list.
func (p *Presenter) UpdateFromConfig(snapshot domain.PolicySnapshot) {
	managed := domain.NewManagedApps(snapshot.ManagedApps...)
	p.update(func(s *State) {
		s.Enabled = snapshot.Enabled
		s.MaxRecentApps = snapshot.MaxRecentApps
		s.RecentApps = truncate(s.RecentApps, snapshot.MaxRecentApps)
		for i := range s.RecentApps {
			s.RecentApps[i].Managed = managed.Contains(s.RecentApps[i].Path)
		}
		s.LastError = ""
	})
}

// ReportError records a non-fatal failure for display.
func (p *Presenter) ReportError(err error) {
	p.update(func(s *State) {
		s.LastError = err.Error()
	})
}

// ToggleGlobal flips the enabled flag and tells the core. It returns the
// new flag and whether the core accepted the command.
func (p *Presenter) ToggleGlobal() (enabled, sent bool) {
	p.update(func(s *State) {
		s.Enabled = !s.Enabled
		enabled = s.Enabled
	})
	return enabled, p.send(domain.SetEnabledGlobal{Enabled: enabled})
}

// SetEnabled sets the enabled flag and tells the core.
func (p *Presenter) SetEnabled(enabled bool) bool {
	p.update(func(s *State) {
		s.Enabled = enabled
	})
	return p.send(domain.SetEnabledGlobal{Enabled: enabled})
}

// SetManaged marks path managed or not, refreshes its recent entry if
// listed, and tells the core.
func (p *Presenter) SetManaged(path domain.ProgramPath, managed bool) bool {
	p.update(func(s *State) {
		for i := range s.RecentApps {
			if s.RecentApps[i].Path.Equal(path) {
				s.RecentApps[i].Managed = managed
			}
		}
	})
	return p.send(domain.SetEnabledApp{Path: path, Enabled: managed})
}

// ToggleProgram flips the managed mark of the recent entry at index.
func (p *Presenter) ToggleProgram(index int) (bool, error) {
	var cmd domain.SetEnabledApp
	var err error
	p.update(func(s *State) {
		if index < 0 || index >= len(s.RecentApps) {
			err = fmt.Errorf("recent app index %d out of range [0, %d)", index, len(s.RecentApps))
			return
		}
		s.RecentApps[index].Managed = !s.RecentApps[index].Managed
		cmd = domain.SetEnabledApp{Path: s.RecentApps[index].Path, Enabled: s.RecentApps[index].Managed}
	})
	if err != nil {
		return false, err
	}
	return p.send(cmd), nil
}

// OpenConfig asks the core to reveal the config file.
func (p *Presenter) OpenConfig() bool { return p.send(domain.OpenConfig{}) }

// ReloadConfig asks the core to reload the config file.
func (p *Presenter) ReloadConfig() bool { return p.send(domain.ReloadConfig{}) }

// ForceUnmuteAll asks the core to unmute every window.
func (p *Presenter) ForceUnmuteAll() bool { return p.send(domain.ForceUnmuteAll{}) }

// ShowAbout asks the core to show version information.
func (p *Presenter) ShowAbout() bool { return p.send(domain.ShowAbout{}) }

// Exit asks the core to shut down.
func (p *Presenter) Exit() bool { return p.send(domain.ExitApplication{}) }

// State returns a copy of the current state.
func (p *Presenter) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLocked()
}

// Tooltip returns the tray tooltip text.
func (p *Presenter) Tooltip() string {
	if p.State().Enabled {
		return "automute"
	}
	return "automute (disabled)"
}

func (p *Presenter) update(fn func(s *State)) {
	p.mu.Lock()
	fn(&p.state)
	p.state.UpdatedAt = time.Now()
	snapshot := p.copyLocked()
	p.mu.Unlock()

	if p.statePath == "" {
		return
	}
	if err := WriteState(p.statePath, snapshot); err != nil {
		p.logger.Warn("failed to write ui state", zap.String("path", p.statePath), zap.Error(err))
	}
}

func (p *Presenter) copyLocked() State {
	s := p.state
	s.RecentApps = append([]RecentApp(nil), p.state.RecentApps...)
	return s
}

func truncate(apps []RecentApp, limit int) []RecentApp {
	if limit < 0 {
		limit = 0
	}
	if len(apps) > limit {
		return apps[:limit]
	}
	return apps
}

// AppName returns the display name of a program: its file name without
// extension, first letter upper-cased.
func AppName(path domain.ProgramPath) string {
	base := filepath.Base(path.String())
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		return base
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// WriteState writes s to path atomically.
func WriteState(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// ReadState reads a state file written by WriteState.
func ReadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("malformed ui state at %s: %w", path, err)
	}
	return s, nil
}

// Ensure Presenter implements domain.Presenter.
var _ domain.Presenter = (*Presenter)(nil)
