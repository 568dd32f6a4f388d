// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/metrics"
)

// CoreConfig holds core state machine configuration.
type CoreConfig struct {
	InboxSize     int                  // Buffered commands before producers block
	ExcludedPaths []domain.ProgramPath // Never reported as recent apps (e.g. the desktop shell)
	About         domain.AboutInfo
}

// DefaultCoreConfig returns default core configuration.
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		InboxSize: 64,
	}
}

// Core owns the policy and the foreground window, and turns commands into
// mute directives. All state is confined to the goroutine running Run.
type Core struct {
	config    CoreConfig
	store     domain.PolicyStore
	windows   domain.WindowDirectory
	processes domain.ProcessDirectory
	muter     Muter
	presenter domain.Presenter
	shell     domain.Shell
	metrics   *metrics.Metrics
	logger    *zap.Logger

	inbox      chan domain.Command
	policy     domain.Policy
	foreground *domain.Window
}

// NewCore creates a core state machine. Call Init before Run.
func NewCore(
	config CoreConfig,
	store domain.PolicyStore,
	windows domain.WindowDirectory,
	processes domain.ProcessDirectory,
	muter Muter,
	presenter domain.Presenter,
	shell domain.Shell,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Core {
	return &Core{
		config:    config,
		store:     store,
		windows:   windows,
		processes: processes,
		muter:     muter,
		presenter: presenter,
		shell:     shell,
		metrics:   m,
		logger:    logger,
		inbox:     make(chan domain.Command, config.InboxSize),
		policy:    domain.DefaultPolicy(),
	}
}

// Inbox returns the send side of the command queue.
func (c *Core) Inbox() chan<- domain.Command {
	return c.inbox
}

// Submit enqueues cmd, giving up when ctx is done.
func (c *Core) Submit(ctx context.Context, cmd domain.Command) bool {
	select {
	case c.inbox <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

// Policy returns a copy of the current policy (for tests and status).
// Only safe to call from the core goroutine or after Run returns.
func (c *Core) Policy() domain.Policy {
	return c.policy.Clone()
}

// Foreground returns the window the core believes has focus.
// Only safe to call from the core goroutine or after Run returns.
func (c *Core) Foreground() (domain.Window, bool) {
	if c.foreground == nil {
		return domain.Window{}, false
	}
	return *c.foreground, true
}

// Init establishes the initial state: writes the default document if it is
// missing, then loads it. Any failure here is fatal for the process.
func (c *Core) Init() error {
	if !c.store.Exists() {
		if err := c.store.Save(domain.DefaultPolicy()); err != nil {
			return fmt.Errorf("cannot create default config: %w", err)
		}
		c.logger.Info("wrote default config file", zap.String("path", c.store.Path()))
	}

	p, err := c.store.Load()
	if err != nil {
		return err
	}
	c.applyLoaded(p)
	return nil
}

// Run processes commands until ExitApplication or ctx cancellation.
// Every exit path, including a panic, force-unmutes all open windows.
func (c *Core) Run(ctx context.Context) error {
	defer func() {
		c.logger.Info("core stopping, releasing all mutes")
		c.forceUnmuteAll()
	}()

	c.logger.Info("core started",
		zap.Bool("enabled", c.policy.Enabled),
		zap.Int("managed_apps", c.policy.ManagedApps.Len()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.inbox:
			if !c.Process(cmd) {
				return nil
			}
		}
	}
}

// Process handles one command to completion and reports whether the loop
// should keep running.
func (c *Core) Process(cmd domain.Command) bool {
	c.logger.Debug("core received command", zap.Any("command", cmd))
	c.metrics.CommandProcessed(domain.CommandName(cmd))

	switch cmd := cmd.(type) {
	case domain.NewForegroundWindow:
		c.handleNewWindow(cmd.Handle)
	case domain.SetEnabledGlobal:
		c.setEnabledGlobal(cmd.Enabled)
	case domain.SetEnabledApp:
		c.setEnabledApp(cmd.Path, cmd.Enabled)
	case domain.OpenConfig:
		c.openConfig()
	case domain.ReloadConfig:
		c.reloadConfig()
	case domain.ForceUnmuteAll:
		c.forceUnmuteAll()
	case domain.ShowAbout:
		c.showAbout()
	case domain.ExitApplication:
		return false
	default:
		c.logger.Warn("unknown command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
	return true
}

func (c *Core) handleNewWindow(handle domain.WindowHandle) {
	window, err := c.windows.Resolve(handle)
	if err != nil {
		c.logger.Debug("ignoring window", zap.Uint64("handle", uint64(handle)), zap.Error(err))
		return
	}

	old := c.foreground
	newManaged := c.policy.IsManaged(window.ProgramPath)

	// Mute before unmute; nothing at all when the same process is refocused.
	if c.policy.Enabled && (old == nil || old.PID != window.PID) {
		if old != nil && c.policy.IsManaged(old.ProgramPath) {
			c.muter.Mute(old.PID)
		}
		if newManaged {
			c.muter.Unmute(window.PID, true)
		}
	}

	if (old == nil || !old.ProgramPath.Equal(window.ProgramPath)) && !c.isExcluded(window.ProgramPath) {
		c.presenter.AddRecentApp(window.ProgramPath, newManaged)
	}

	c.logger.Debug("new foreground window",
		zap.Uint64("handle", uint64(window.Handle)),
		zap.Int("pid", window.PID),
		zap.String("path", window.ProgramPath.String()))
	c.foreground = &window
}

func (c *Core) setEnabledGlobal(enabled bool) {
	if enabled == c.policy.Enabled {
		return
	}

	c.policy.Enabled = enabled
	c.persist()
	c.logger.Info("automute toggled", zap.Bool("enabled", enabled))

	if enabled {
		c.updateMuteStatusAll()
	} else {
		c.forceUnmuteAll()
	}
}

func (c *Core) setEnabledApp(path domain.ProgramPath, managed bool) {
	if managed {
		if !c.policy.ManagedApps.Add(path) {
			return
		}
		c.logger.Info("added managed app", zap.String("path", path.String()))

		if c.policy.Enabled {
			foregroundPID, hasForeground := c.foregroundPID()
			for _, pid := range c.pidsForPath(path) {
				if hasForeground && pid == foregroundPID {
					c.muter.Unmute(pid, false)
				} else {
					c.muter.Mute(pid)
				}
			}
		}
	} else {
		if !c.policy.ManagedApps.Remove(path) {
			return
		}
		c.logger.Info("removed managed app", zap.String("path", path.String()))

		for _, pid := range c.pidsForPath(path) {
			c.muter.Unmute(pid, false)
		}
	}

	c.metrics.SetManagedApps(c.policy.ManagedApps.Len())
	c.persist()
}

func (c *Core) openConfig() {
	if err := c.shell.RevealFile(c.store.Path()); err != nil {
		c.logger.Warn("cannot show config file",
			zap.String("path", c.store.Path()),
			zap.Error(err))
	}
}

func (c *Core) showAbout() {
	if err := c.shell.ShowAbout(c.config.About); err != nil {
		c.logger.Warn("cannot show about dialog", zap.Error(err))
	}
}

// reloadConfig replaces the policy from disk. On failure the last-known-good
// policy stays in effect.
func (c *Core) reloadConfig() {
	p, err := c.store.Load()
	if err != nil {
		c.logger.Error("cannot reload config", zap.Error(err))
		c.presenter.ReportError(err)
		return
	}
	c.applyLoaded(p)
}

// applyLoaded installs p, relaxes every mute unconditionally, then
// publishes the new state.
func (c *Core) applyLoaded(p domain.Policy) {
	c.policy = p
	c.metrics.SetManagedApps(p.ManagedApps.Len())

	c.forceUnmuteAll()

	c.presenter.UpdateFromConfig(p.Snapshot())
	c.logger.Info("loaded config from file",
		zap.String("path", c.store.Path()),
		zap.Bool("enabled", p.Enabled),
		zap.Int("managed_apps", p.ManagedApps.Len()),
		zap.Int("max_recent_apps", p.MaxRecentApps))
}

func (c *Core) forceUnmuteAll() {
	for _, pid := range c.openWindowPIDs() {
		c.muter.Unmute(pid, false)
	}
}

// updateMuteStatusAll recomputes mute state for every open window: the
// foreground process is unmuted, every other distinct pid muted.
func (c *Core) updateMuteStatusAll() {
	foregroundPID, hasForeground := c.foregroundPID()

	for _, pid := range c.openWindowPIDs() {
		if hasForeground && pid == foregroundPID {
			c.muter.Unmute(pid, false)
		} else {
			c.muter.Mute(pid)
		}
	}
}

// openWindowPIDs returns distinct pids owning an open window, in window
// order. Enumeration failures yield no pids.
func (c *Core) openWindowPIDs() []int {
	windows, err := c.windows.OpenWindows()
	if err != nil {
		c.logger.Warn("cannot enumerate windows", zap.Error(err))
		return nil
	}

	seen := make(map[int]struct{}, len(windows))
	pids := make([]int, 0, len(windows))
	for _, w := range windows {
		if _, dup := seen[w.PID]; dup {
			continue
		}
		seen[w.PID] = struct{}{}
		pids = append(pids, w.PID)
	}
	return pids
}

func (c *Core) pidsForPath(path domain.ProgramPath) []int {
	pids, err := c.processes.FindPIDsByPath(path)
	if err != nil {
		c.logger.Warn("failed to find processes",
			zap.String("path", path.String()),
			zap.Error(err))
		return nil
	}
	return pids
}

func (c *Core) foregroundPID() (int, bool) {
	if c.foreground == nil {
		return 0, false
	}
	return c.foreground.PID, true
}

func (c *Core) isExcluded(path domain.ProgramPath) bool {
	for _, excluded := range c.config.ExcludedPaths {
		if excluded.Equal(path) {
			return true
		}
	}
	return false
}

// persist saves the policy. A failed save is reported but the in-memory
// change stands.
func (c *Core) persist() {
	if err := c.store.Save(c.policy); err != nil {
		c.logger.Error("cannot save config", zap.Error(err))
		c.presenter.ReportError(err)
		return
	}
	c.logger.Info("updated config file", zap.String("path", c.store.Path()))
}
