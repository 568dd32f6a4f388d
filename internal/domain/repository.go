package domain

import (
	"errors"
	"time"
)

var (
	// ErrNotAWindow is returned when a handle does not resolve to a
	// user-facing top-level window (owned, invisible, untitled, or its
	// process path cannot be read).
	ErrNotAWindow = errors.New("not a top-level window")

	// ErrNoAudioSession is returned by a mute backend when the process
	// has no audio stream to act on.
	ErrNoAudioSession = errors.New("process has no audio session")

	// ErrAlreadyRunning is returned when another automute instance holds
	// the instance file.
	ErrAlreadyRunning = errors.New("automute is already running")
)

// WindowDirectory enumerates and resolves top-level windows.
// Implementation: GNOME Shell window-calls extension over D-Bus.
type WindowDirectory interface {
	// Resolve maps a handle to its owning process.
	// Returns an error wrapping ErrNotAWindow for windows that are ignored.
	Resolve(handle WindowHandle) (Window, error)

	// OpenWindows returns every resolvable top-level window.
	OpenWindows() ([]Window, error)
}

// FocusSource reports the window that currently holds input focus.
type FocusSource interface {
	FocusedWindow() (WindowHandle, error)
}

// ProcessDirectory answers process identity questions.
// Implementation: uses gopsutil for cross-platform support.
type ProcessDirectory interface {
	// FindPIDsByPath returns PIDs whose executable matches path (case-insensitive).
	FindPIDsByPath(path ProgramPath) ([]int, error)

	// StartTime returns when pid was started, false if unknown.
	StartTime(pid int) (time.Time, bool)
}

// MuteBackend sets the audio mute state of a process.
type MuteBackend interface {
	SetMute(pid int, mute bool) error
}

// PolicyStore loads and saves the policy document.
type PolicyStore interface {
	// Exists reports whether the document is present.
	Exists() bool

	// Load reads the document.
	Load() (Policy, error)

	// Save writes the document in canonical form.
	Save(policy Policy) error

	// Path returns the document location.
	Path() string
}

// Presenter receives events published by the core for the UI.
type Presenter interface {
	// AddRecentApp reports a newly focused program.
	AddRecentApp(path ProgramPath, managed bool)

	// UpdateFromConfig replaces the UI state after a (re)load.
	UpdateFromConfig(snapshot PolicySnapshot)

	// ReportError surfaces a non-fatal failure.
	ReportError(err error)
}

// Shell performs side effects outside the core's state.
type Shell interface {
	// RevealFile shows the file in the desktop file manager.
	RevealFile(path string) error

	// ShowAbout displays version information.
	ShowAbout(info AboutInfo) error
}

// AboutInfo is the content of the about dialog.
type AboutInfo struct {
	Version   string
	Commit    string
	BuildTime string
	Platform  string
}

// MuteJournal records processes muted by automute so that a crash can be
// recovered on the next start.
type MuteJournal interface {
	// Record marks pid as muted.
	Record(pid int, startedAt time.Time) error

	// Forget removes pid from the journal.
	Forget(pid int) error

	// Pending returns every journaled pid with its recorded start time.
	Pending() (map[int]time.Time, error)

	// Close releases resources (e.g., database connection).
	Close() error
}
