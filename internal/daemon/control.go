package daemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/infra"
	"github.com/eliteGoblin/focusd/automute/internal/ui"
)

// ErrShuttingDown is returned by control requests the core no longer accepts.
var ErrShuttingDown = errors.New("automute is shutting down")

// controlExporter publishes the control handler, normally on the session bus.
type controlExporter interface {
	Export(handler infra.ControlHandler) (release func() error, err error)
}

// Control serves runtime requests from the CLI. Requests go through the
// presenter so its published state follows the core.
type Control struct {
	presenter *ui.Presenter
}

// NewControl creates a control handler driving presenter.
func NewControl(presenter *ui.Presenter) *Control {
	return &Control{presenter: presenter}
}

func (c *Control) SetEnabled(enabled bool) error {
	return accepted(c.presenter.SetEnabled(enabled))
}

func (c *Control) Toggle() (bool, error) {
	enabled, sent := c.presenter.ToggleGlobal()
	return enabled, accepted(sent)
}

// SetManaged adds or removes an absolute program path.
func (c *Control) SetManaged(path string, managed bool) error {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) {
		return fmt.Errorf("program path %q is not absolute", path)
	}
	return accepted(c.presenter.SetManaged(domain.ProgramPath(path), managed))
}

func (c *Control) ToggleRecent(index int) error {
	sent, err := c.presenter.ToggleProgram(index)
	if err != nil {
		return err
	}
	return accepted(sent)
}

func (c *Control) OpenConfig() error { return accepted(c.presenter.OpenConfig()) }
func (c *Control) ShowAbout() error { return accepted(c.presenter.ShowAbout()) }
func (c *Control) Reload() error { return accepted(c.presenter.ReloadConfig()) }
func (c *Control) UnmuteAll() error { return accepted(c.presenter.ForceUnmuteAll()) }
func (c *Control) Exit() error { return accepted(c.presenter.Exit()) }

func accepted(sent bool) error {
	if !sent {
		return ErrShuttingDown
	}
	return nil
}

var _ infra.ControlHandler = (*Control)(nil)
