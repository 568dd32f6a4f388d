package infra

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// D-Bus coordinates of the daemon's control object.
const (
	ControlBusName    = "io.github.eliteGoblin.Automute"
	ControlObjectPath = dbus.ObjectPath("/io/github/eliteGoblin/Automute")
	ControlInterface  = "io.github.eliteGoblin.Automute1"
)

// ErrControlUnavailable is returned when no daemon owns the control name.
var ErrControlUnavailable = errors.New("automute control channel not available")

// ControlHandler is the set of runtime requests a running daemon accepts.
type ControlHandler interface {
	SetEnabled(enabled bool) error
	Toggle() (bool, error)
	SetManaged(path string, managed bool) error
	ToggleRecent(index int) error
	OpenConfig() error
	ShowAbout() error
	Reload() error
	UnmuteAll() error
	Exit() error
}

// ControlBus exports a ControlHandler on a bus connection and calls the
// one exported by a running daemon.
type ControlBus struct {
	conn *dbus.Conn
}

// NewSessionControlBus connects to the session bus.
func NewSessionControlBus() (*ControlBus, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return NewControlBus(conn), nil
}

// NewControlBus uses an existing connection.
func NewControlBus(conn *dbus.Conn) *ControlBus {
	return &ControlBus{conn: conn}
}

// Export publishes handler under ControlBusName. The returned function
// withdraws it again.
func (b *ControlBus) Export(handler ControlHandler) (func() error, error) {
	if err := b.conn.Export(controlObject{h: handler}, ControlObjectPath, ControlInterface); err != nil {
		return nil, fmt.Errorf("failed to export control object: %w", err)
	}
	unexport := func() error { return b.conn.Export(nil, ControlObjectPath, ControlInterface) }

	reply, err := b.conn.RequestName(ControlBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = unexport()
		return nil, fmt.Errorf("failed to request bus name %s: %w", ControlBusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = unexport()
		return nil, fmt.Errorf("bus name %s is taken: %w", ControlBusName, domain.ErrAlreadyRunning)
	}

	return func() error {
		_, err := b.conn.ReleaseName(ControlBusName)
		if uerr := unexport(); err == nil {
			err = uerr
		}
		return err
	}, nil
}

// Client returns a ControlHandler that forwards every request to the
// daemon owning ControlBusName.
func (b *ControlBus) Client() *ControlClient {
	return &ControlClient{obj: b.conn.Object(ControlBusName, ControlObjectPath)}
}

// ControlClient implements ControlHandler over the bus.
type ControlClient struct {
	obj dbus.BusObject
}

func (c *ControlClient) call(method string, args ...interface{}) *dbus.Call {
	call := c.obj.Call(ControlInterface+"."+method, 0, args...)
	if call.Err != nil {
		call.Err = controlError(method, call.Err)
	}
	return call
}

func (c *ControlClient) SetEnabled(enabled bool) error {
	return c.call("SetEnabled", enabled).Err
}

func (c *ControlClient) Toggle() (bool, error) {
	var enabled bool
	if err := c.call("Toggle").Store(&enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

func (c *ControlClient) SetManaged(path string, managed bool) error {
	return c.call("SetManaged", path, managed).Err
}

func (c *ControlClient) ToggleRecent(index int) error {
	return c.call("ToggleRecent", int32(index)).Err
}

func (c *ControlClient) OpenConfig() error { return c.call("OpenConfig").Err }
func (c *ControlClient) ShowAbout() error { return c.call("ShowAbout").Err }
func (c *ControlClient) Reload() error { return c.call("Reload").Err }
func (c *ControlClient) UnmuteAll() error { return c.call("UnmuteAll").Err }
func (c *ControlClient) Exit() error { return c.call("Exit").Err }

func controlError(method string, err error) error {
	switch busErrorName(err) {
	case "org.freedesktop.DBus.Error.ServiceUnknown", "org.freedesktop.DBus.Error.NameHasNoOwner":
		return fmt.Errorf("%s: %w", method, ErrControlUnavailable)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func busErrorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) {
		return pe.Name
	}
	return ""
}

// controlObject adapts a ControlHandler to godbus method conventions.
type controlObject struct {
	h ControlHandler
}

func (o controlObject) SetEnabled(enabled bool) *dbus.Error {
	return busError(o.h.SetEnabled(enabled))
}

func (o controlObject) Toggle() (bool, *dbus.Error) {
	enabled, err := o.h.Toggle()
	return enabled, busError(err)
}

func (o controlObject) SetManaged(path string, managed bool) *dbus.Error {
	return busError(o.h.SetManaged(path, managed))
}

func (o controlObject) ToggleRecent(index int32) *dbus.Error {
	return busError(o.h.ToggleRecent(int(index)))
}

func (o controlObject) OpenConfig() *dbus.Error { return busError(o.h.OpenConfig()) }
func (o controlObject) ShowAbout() *dbus.Error { return busError(o.h.ShowAbout()) }
func (o controlObject) Reload() *dbus.Error { return busError(o.h.Reload()) }
func (o controlObject) UnmuteAll() *dbus.Error { return busError(o.h.UnmuteAll()) }
func (o controlObject) Exit() *dbus.Error { return busError(o.h.Exit()) }

func busError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return dbus.MakeFailedError(err)
}

var _ ControlHandler = (*ControlClient)(nil)
