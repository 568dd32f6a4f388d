package infra

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// D-Bus coordinates of the GNOME Shell "Window Calls" extension.
const (
	windowCallsDestination = "org.gnome.Shell"
	windowCallsObjectPath  = "/org/gnome/Shell/Extensions/Windows"
	windowCallsInterface   = "org.gnome.Shell.Extensions.Windows"
)

// Mutter window types that count as top-level application windows.
const (
	metaWindowNormal = 0
	metaWindowDialog = 3
)

// shellWindow is one entry of the extension's List reply.
type shellWindow struct {
	ID         uint64 `json:"id"`
	PID        int    `json:"pid"`
	WMClass    string `json:"wm_class"`
	Focus      bool   `json:"focus"`
	WindowType int    `json:"window_type"`
}

// shellWindowDetails is the extension's Details reply.
type shellWindowDetails struct {
	ID             uint64 `json:"id"`
	PID            int    `json:"pid"`
	Title          string `json:"title"`
	Focus          bool   `json:"focus"`
	WindowType     int    `json:"window_type"`
	Visible        *bool  `json:"visible,omitempty"`
	Minimized      bool   `json:"minimized"`
	TransientForID uint64 `json:"transient_for,omitempty"`
}

// BusCaller invokes a method on the window-calls object and returns its
// string (JSON) reply.
type BusCaller interface {
	Call(method string, args ...interface{}) (string, error)
}

// dbusCaller implements BusCaller over the session bus.
type dbusCaller struct {
	obj dbus.BusObject
}

// NewSessionBusCaller connects to the session bus.
func NewSessionBusCaller() (BusCaller, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &dbusCaller{obj: conn.Object(windowCallsDestination, windowCallsObjectPath)}, nil
}

func (c *dbusCaller) Call(method string, args ...interface{}) (string, error) {
	var reply string
	if err := c.obj.Call(windowCallsInterface+"."+method, 0, args...).Store(&reply); err != nil {
		return "", fmt.Errorf("%s.%s: %w", windowCallsInterface, method, err)
	}
	return reply, nil
}

// executableResolver maps a pid to its executable.
type executableResolver interface {
	ExecutablePath(pid int) (domain.ProgramPath, error)
}

// ShellWindows implements domain.WindowDirectory and domain.FocusSource on
// top of GNOME Shell.
type ShellWindows struct {
	bus       BusCaller
	processes executableResolver
}

// NewShellWindows creates a window directory.
func NewShellWindows(bus BusCaller, processes executableResolver) *ShellWindows {
	return &ShellWindows{bus: bus, processes: processes}
}

// FocusedWindow returns the handle of the window holding focus.
func (w *ShellWindows) FocusedWindow() (domain.WindowHandle, error) {
	windows, err := w.list()
	if err != nil {
		return 0, err
	}
	for _, sw := range windows {
		if sw.Focus {
			return domain.WindowHandle(sw.ID), nil
		}
	}
	return 0, fmt.Errorf("no focused window: %w", domain.ErrNotAWindow)
}

// Resolve maps handle to its owning process.
func (w *ShellWindows) Resolve(handle domain.WindowHandle) (domain.Window, error) {
	if handle > math.MaxUint32 {
		return domain.Window{}, fmt.Errorf("window handle %d out of range: %w", handle, domain.ErrNotAWindow)
	}
	reply, err := w.bus.Call("Details", uint32(handle))
	if err != nil {
		return domain.Window{}, fmt.Errorf("%v: %w", err, domain.ErrNotAWindow)
	}
	var d shellWindowDetails
	if err := json.Unmarshal([]byte(reply), &d); err != nil {
		return domain.Window{}, fmt.Errorf("malformed window details: %w", domain.ErrNotAWindow)
	}

	switch {
	case d.TransientForID != 0:
		return domain.Window{}, fmt.Errorf("window has an owner: %w", domain.ErrNotAWindow)
	case d.WindowType != metaWindowNormal && d.WindowType != metaWindowDialog:
		return domain.Window{}, fmt.Errorf("window type %d: %w", d.WindowType, domain.ErrNotAWindow)
	case d.Visible != nil && !*d.Visible:
		return domain.Window{}, fmt.Errorf("window is invisible: %w", domain.ErrNotAWindow)
	case strings.TrimSpace(d.Title) == "":
		return domain.Window{}, fmt.Errorf("window has empty title: %w", domain.ErrNotAWindow)
	case d.PID <= 0:
		return domain.Window{}, fmt.Errorf("window has no pid: %w", domain.ErrNotAWindow)
	}

	path, err := w.processes.ExecutablePath(d.PID)
	if err != nil {
		return domain.Window{}, fmt.Errorf("cannot read process path of pid %d: %w", d.PID, domain.ErrNotAWindow)
	}

	return domain.Window{Handle: handle, PID: d.PID, ProgramPath: path}, nil
}

// OpenWindows returns every resolvable top-level window, ordered by handle.
func (w *ShellWindows) OpenWindows() ([]domain.Window, error) {
	listed, err := w.list()
	if err != nil {
		return nil, err
	}

	windows := make([]domain.Window, 0, len(listed))
	for _, sw := range listed {
		window, err := w.Resolve(domain.WindowHandle(sw.ID))
		if err != nil {
			continue // Closed since List, or filtered
		}
		windows = append(windows, window)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Handle < windows[j].Handle })
	return windows, nil
}

func (w *ShellWindows) list() ([]shellWindow, error) {
	reply, err := w.bus.Call("List")
	if err != nil {
		return nil, err
	}
	var windows []shellWindow
	if err := json.Unmarshal([]byte(reply), &windows); err != nil {
		return nil, fmt.Errorf("malformed window list: %w", err)
	}
	return windows, nil
}

var (
	_ domain.WindowDirectory = (*ShellWindows)(nil)
	_ domain.FocusSource     = (*ShellWindows)(nil)
)
