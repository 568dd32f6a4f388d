package daemon

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/infra"
)

// fakeDesktop implements WindowDirectory, FocusSource and ProcessDirectory
// for testing
type fakeDesktop struct {
	mu       sync.Mutex
	windows  map[domain.WindowHandle]domain.Window
	focused  domain.WindowHandle
	hasFocus bool
}

func newFakeDesktop(windows ...domain.Window) *fakeDesktop {
	d := &fakeDesktop{windows: make(map[domain.WindowHandle]domain.Window)}
	for _, w := range windows {
		d.windows[w.Handle] = w
	}
	return d
}

func (d *fakeDesktop) focus(handle domain.WindowHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused, d.hasFocus = handle, true
}

func (d *fakeDesktop) FocusedWindow() (domain.WindowHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasFocus {
		return 0, errors.New("no window has focus")
	}
	return d.focused, nil
}

func (d *fakeDesktop) Resolve(handle domain.WindowHandle) (domain.Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[handle]
	if !ok {
		return domain.Window{}, fmt.Errorf("unknown handle %d: %w", handle, domain.ErrNotAWindow)
	}
	return w, nil
}

func (d *fakeDesktop) OpenWindows() ([]domain.Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Window, 0, len(d.windows))
	for _, w := range d.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (d *fakeDesktop) FindPIDsByPath(path domain.ProgramPath) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var pids []int
	for _, w := range d.windows {
		if w.ProgramPath.Equal(path) {
			pids = append(pids, w.PID)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// StartTime is unknown for every pid, so no follow-up unmutes are scheduled.
func (d *fakeDesktop) StartTime(pid int) (time.Time, bool) {
	return time.Time{}, false
}

type muteCall struct {
	PID  int
	Mute bool
}

// recordingBackend implements domain.MuteBackend for testing
type recordingBackend struct {
	mu    sync.Mutex
	calls []muteCall
}

func (b *recordingBackend) SetMute(pid int, mute bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, muteCall{PID: pid, Mute: mute})
	return nil
}

func (b *recordingBackend) snapshot() []muteCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]muteCall(nil), b.calls...)
}

// lastFor returns the most recent call for pid.
func (b *recordingBackend) lastFor(pid int) (muteCall, bool) {
	calls := b.snapshot()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].PID == pid {
			return calls[i], true
		}
	}
	return muteCall{}, false
}

func (b *recordingBackend) contains(call muteCall) bool {
	for _, c := range b.snapshot() {
		if c == call {
			return true
		}
	}
	return false
}

type nopShell struct{}

func (nopShell) RevealFile(path string) error { return nil }
func (nopShell) ShowAbout(info domain.AboutInfo) error { return nil }

// fakeInstance implements instanceLock and runningChecker for testing
type fakeInstance struct {
	mu       sync.Mutex
	entry    *domain.InstanceEntry
	acquired []int
	released []int
	err      error
}

func (f *fakeInstance) Acquire(entry domain.InstanceEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.acquired = append(f.acquired, entry.PID)
	f.entry = &entry
	return nil
}

func (f *fakeInstance) Release(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, pid)
	f.entry = nil
	return nil
}

func (f *fakeInstance) Running() (*domain.InstanceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entry == nil {
		return nil, nil
	}
	e := *f.entry
	return &e, nil
}

// staticFocus implements domain.FocusSource with a scripted sequence
type staticFocus struct {
	mu      sync.Mutex
	handles []domain.WindowHandle
	calls   int
}

func (f *staticFocus) FocusedWindow() (domain.WindowHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.handles) == 0 {
		return 0, errors.New("no window has focus")
	}
	h := f.handles[0]
	if len(f.handles) > 1 {
		f.handles = f.handles[1:]
	}
	return h, nil
}

// capturingExporter implements controlExporter by keeping the handler
type capturingExporter struct {
	mu       sync.Mutex
	handler  infra.ControlHandler
	released bool
	err      error
}

func (e *capturingExporter) Export(handler infra.ControlHandler) (func() error, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
	return func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.released = true
		return nil
	}, nil
}

func (e *capturingExporter) exported() infra.ControlHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

func (e *capturingExporter) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}
