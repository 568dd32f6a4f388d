// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// FakeDesktop simulates a desktop session: open windows, the focused
// window and process start times. It implements domain.WindowDirectory,
// domain.FocusSource and domain.ProcessDirectory.
type FakeDesktop struct {
	mu         sync.Mutex
	windows    map[domain.WindowHandle]domain.Window
	startTimes map[int]time.Time
	focused    domain.WindowHandle
	hasFocus   bool
}

// NewFakeDesktop creates a desktop with the given windows open. Every
// process reports a start time of startedAt.
func NewFakeDesktop(startedAt time.Time, windows ...domain.Window) *FakeDesktop {
	d := &FakeDesktop{
		windows:    make(map[domain.WindowHandle]domain.Window),
		startTimes: make(map[int]time.Time),
	}
	for _, w := range windows {
		d.windows[w.Handle] = w
		d.startTimes[w.PID] = startedAt
	}
	return d
}

// Focus gives input focus to handle.
func (d *FakeDesktop) Focus(handle domain.WindowHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused, d.hasFocus = handle, true
}

// SetStartTime overrides the start time reported for pid.
func (d *FakeDesktop) SetStartTime(pid int, t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startTimes[pid] = t
}

func (d *FakeDesktop) FocusedWindow() (domain.WindowHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasFocus {
		return 0, errors.New("no window has focus")
	}
	return d.focused, nil
}

func (d *FakeDesktop) Resolve(handle domain.WindowHandle) (domain.Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[handle]
	if !ok {
		return domain.Window{}, fmt.Errorf("unknown handle %d: %w", handle, domain.ErrNotAWindow)
	}
	return w, nil
}

func (d *FakeDesktop) OpenWindows() ([]domain.Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Window, 0, len(d.windows))
	for _, w := range d.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (d *FakeDesktop) FindPIDsByPath(path domain.ProgramPath) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[int]bool)
	var pids []int
	for _, w := range d.windows {
		if w.ProgramPath.Equal(path) && !seen[w.PID] {
			seen[w.PID] = true
			pids = append(pids, w.PID)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func (d *FakeDesktop) StartTime(pid int) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.startTimes[pid]
	return t, ok
}

// MuteCall is one SetMute call seen by RecordingBackend.
type MuteCall struct {
	PID  int
	Mute bool
}

// RecordingBackend implements domain.MuteBackend and keeps every call.
type RecordingBackend struct {
	mu    sync.Mutex
	calls []MuteCall
	muted map[int]bool
}

// NewRecordingBackend creates an empty backend.
func NewRecordingBackend() *RecordingBackend {
	return &RecordingBackend{muted: make(map[int]bool)}
}

func (b *RecordingBackend) SetMute(pid int, mute bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, MuteCall{PID: pid, Mute: mute})
	b.muted[pid] = mute
	return nil
}

// Calls returns a copy of every call so far.
func (b *RecordingBackend) Calls() []MuteCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]MuteCall(nil), b.calls...)
}

// CallsFor returns the calls made for pid.
func (b *RecordingBackend) CallsFor(pid int) []MuteCall {
	var out []MuteCall
	for _, c := range b.Calls() {
		if c.PID == pid {
			out = append(out, c)
		}
	}
	return out
}

// IsMuted reports the last state set for pid.
func (b *RecordingBackend) IsMuted(pid int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted[pid]
}

// NopShell implements domain.Shell without side effects.
type NopShell struct{}

func (NopShell) RevealFile(path string) error { return nil }

func (NopShell) ShowAbout(info domain.AboutInfo) error { return nil }

var (
	_ domain.WindowDirectory  = (*FakeDesktop)(nil)
	_ domain.FocusSource      = (*FakeDesktop)(nil)
	_ domain.ProcessDirectory = (*FakeDesktop)(nil)
	_ domain.MuteBackend      = (*RecordingBackend)(nil)
	_ domain.Shell            = NopShell{}
)
