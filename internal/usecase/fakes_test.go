package usecase

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/policy"
)

// directive is one call recorded by recordingMuter.
type directive struct {
	Mute       bool
	PID        int
	Aggressive bool
}

func mute(pid int) directive { return directive{Mute: true, PID: pid} }

func unmute(pid int, aggressive bool) directive { return directive{PID: pid, Aggressive: aggressive} }

func (d directive) String() string {
	if d.Mute {
		return fmt.Sprintf("Mute(%d)", d.PID)
	}
	return fmt.Sprintf("Unmute(%d, %t)", d.PID, d.Aggressive)
}

// recordingMuter implements Muter for testing
type recordingMuter struct {
	mu    sync.Mutex
	calls []directive
}

func (m *recordingMuter) Mute(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mute(pid))
}

func (m *recordingMuter) Unmute(pid int, aggressive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, unmute(pid, aggressive))
}

// take returns and clears the recorded directives.
func (m *recordingMuter) take() []directive {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.calls
	m.calls = nil
	return out
}

// fakeWindows implements domain.WindowDirectory for testing
type fakeWindows struct {
	windows map[domain.WindowHandle]domain.Window
	listErr error
}

func newFakeWindows(windows ...domain.Window) *fakeWindows {
	f := &fakeWindows{windows: make(map[domain.WindowHandle]domain.Window)}
	for _, w := range windows {
		f.windows[w.Handle] = w
	}
	return f
}

func (f *fakeWindows) Resolve(handle domain.WindowHandle) (domain.Window, error) {
	w, ok := f.windows[handle]
	if !ok {
		return domain.Window{}, fmt.Errorf("window has empty title: %w", domain.ErrNotAWindow)
	}
	return w, nil
}

func (f *fakeWindows) OpenWindows() ([]domain.Window, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Window, 0, len(f.windows))
	for _, w := range f.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// fakeProcesses implements domain.ProcessDirectory for testing
type fakeProcesses struct {
	byPath  map[string][]int
	started map[int]time.Time
	findErr error
}

func newFakeProcesses() *fakeProcesses {
	return &fakeProcesses{
		byPath:  make(map[string][]int),
		started: make(map[int]time.Time),
	}
}

func (f *fakeProcesses) FindPIDsByPath(path domain.ProgramPath) ([]int, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.byPath[path.Key()], nil
}

func (f *fakeProcesses) StartTime(pid int) (time.Time, bool) {
	t, ok := f.started[pid]
	return t, ok
}

// memoryStore implements domain.PolicyStore in memory, using the real codec
type memoryStore struct {
	data    []byte
	saves   int
	saveErr error
	loadErr error
}

func (s *memoryStore) Exists() bool { return s.data != nil }

func (s *memoryStore) Load() (domain.Policy, error) {
	if s.loadErr != nil {
		return domain.Policy{}, s.loadErr
	}
	if s.data == nil {
		return domain.Policy{}, errors.New("no such file")
	}
	return policy.Decode(s.data, policy.FormatTOML)
}

func (s *memoryStore) Save(p domain.Policy) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := policy.Encode(p, policy.FormatTOML)
	if err != nil {
		return err
	}
	s.data = data
	s.saves++
	return nil
}

func (s *memoryStore) Path() string { return "/tmp/automute-test.toml" }

func (s *memoryStore) stored() domain.Policy {
	p, err := policy.Decode(s.data, policy.FormatTOML)
	if err != nil {
		panic(err)
	}
	return p
}

type recentApp struct {
	Path    domain.ProgramPath
	Managed bool
}

// fakePresenter implements domain.Presenter for testing
type fakePresenter struct {
	recent    []recentApp
	snapshots []domain.PolicySnapshot
	errors    []error
}

func (p *fakePresenter) AddRecentApp(path domain.ProgramPath, managed bool) {
	p.recent = append(p.recent, recentApp{Path: path, Managed: managed})
}

func (p *fakePresenter) UpdateFromConfig(s domain.PolicySnapshot) {
	p.snapshots = append(p.snapshots, s)
}

func (p *fakePresenter) ReportError(err error) {
	p.errors = append(p.errors, err)
}

// fakeShell implements domain.Shell for testing
type fakeShell struct {
	revealed []string
	abouts   []domain.AboutInfo
	err      error
}

func (s *fakeShell) RevealFile(path string) error {
	s.revealed = append(s.revealed, path)
	return s.err
}

func (s *fakeShell) ShowAbout(info domain.AboutInfo) error {
	s.abouts = append(s.abouts, info)
	return s.err
}

// fakeClock implements Clock; timers fire only on Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []fakeTimer
}

type fakeTimer struct {
	at time.Time
	f  func()
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, fakeTimer{at: c.now.Add(d), f: f})
}

// Advance moves time forward and fires due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, pending []fakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// backendCall is one SetMute call with the clock time it happened at.
type backendCall struct {
	PID  int
	Mute bool
	At   time.Time
}

// fakeBackend implements domain.MuteBackend for testing
type fakeBackend struct {
	mu    sync.Mutex
	clock Clock
	calls []backendCall
	err   error
}

func (b *fakeBackend) SetMute(pid int, m bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	at := time.Time{}
	if b.clock != nil {
		at = b.clock.Now()
	}
	b.calls = append(b.calls, backendCall{PID: pid, Mute: m, At: at})
	return b.err
}

func (b *fakeBackend) snapshot() []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backendCall(nil), b.calls...)
}
