package domain

import "fmt"

// Command is a message consumed by the core state machine.
// Producers: window listener, UI, signal relay, config watcher.
type Command interface {
	commandName() string
}

// CommandName returns a stable label for logging and metrics.
func CommandName(c Command) string {
	if c == nil {
		return "nil"
	}
	return c.commandName()
}

// NewForegroundWindow reports that a window received input focus.
type NewForegroundWindow struct {
	Handle WindowHandle
}

// SetEnabledGlobal turns the whole policy on or off.
type SetEnabledGlobal struct {
	Enabled bool
}

// SetEnabledApp adds (Enabled=true) or removes a program from the managed set.
type SetEnabledApp struct {
	Path    ProgramPath
	Enabled bool
}

// OpenConfig reveals the policy document to the user.
type OpenConfig struct{}

// ReloadConfig re-reads the policy document.
type ReloadConfig struct{}

// ForceUnmuteAll unmutes every process that owns an open window.
type ForceUnmuteAll struct{}

// ShowAbout displays version information.
type ShowAbout struct{}

// ExitApplication stops the core loop after it is processed.
type ExitApplication struct{}

func (NewForegroundWindow) commandName() string { return "new_foreground_window" }
func (SetEnabledGlobal) commandName() string    { return "set_enabled_global" }
func (SetEnabledApp) commandName() string       { return "set_enabled_app" }
func (OpenConfig) commandName() string          { return "open_config" }
func (ReloadConfig) commandName() string        { return "reload_config" }
func (ForceUnmuteAll) commandName() string      { return "force_unmute_all" }
func (ShowAbout) commandName() string           { return "show_about" }
func (ExitApplication) commandName() string     { return "exit_application" }

func (c NewForegroundWindow) String() string {
	return fmt.Sprintf("NewForegroundWindow(%#x)", uint64(c.Handle))
}

func (c SetEnabledApp) String() string {
	return fmt.Sprintf("SetEnabledApp(%s, %t)", c.Path, c.Enabled)
}
