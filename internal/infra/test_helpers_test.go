package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// mockProcessDirectory is a test double for the process directory
type mockProcessDirectory struct {
	runningPIDs map[int]bool
	started     map[int]time.Time
	exes        map[int]domain.ProgramPath
}

func newMockProcessDirectory() *mockProcessDirectory {
	return &mockProcessDirectory{
		runningPIDs: make(map[int]bool),
		started:     make(map[int]time.Time),
		exes:        make(map[int]domain.ProgramPath),
	}
}

func (m *mockProcessDirectory) FindPIDsByPath(path domain.ProgramPath) ([]int, error) {
	var pids []int
	for pid, exe := range m.exes {
		if exe.Equal(path) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (m *mockProcessDirectory) StartTime(pid int) (time.Time, bool) {
	t, ok := m.started[pid]
	return t, ok
}

func (m *mockProcessDirectory) ExecutablePath(pid int) (domain.ProgramPath, error) {
	exe, ok := m.exes[pid]
	if !ok {
		return "", fmt.Errorf("open /proc/%d/exe: permission denied", pid)
	}
	return exe, nil
}

func (m *mockProcessDirectory) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessDirectory) SetRunning(pid int, started time.Time) {
	m.runningPIDs[pid] = true
	m.started[pid] = started
}

// setCall is one SetMute call seen by recordingBackend.
type setCall struct {
	PID  int
	Mute bool
}

// recordingBackend is a test double for domain.MuteBackend
type recordingBackend struct {
	mu    sync.Mutex
	calls []setCall
	fail  map[int]error
}

func (b *recordingBackend) SetMute(pid int, mute bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, setCall{PID: pid, Mute: mute})
	if err, ok := b.fail[pid]; ok {
		return err
	}
	return nil
}

// fakeRunner scripts pactl replies keyed by the joined argument list.
type fakeRunner struct {
	replies map[string]string
	errs    map[string]error
	seen    []string
}

func (r *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := name + " " + strings.Join(args, " ")
	r.seen = append(r.seen, key)
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	return []byte(r.replies[key]), nil
}

// fakeBus is a test double for BusCaller
type fakeBus struct {
	list    string
	details map[uint32]string
	err     error
}

func (b *fakeBus) Call(method string, args ...interface{}) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	switch method {
	case "List":
		return b.list, nil
	case "Details":
		id := args[0].(uint32)
		reply, ok := b.details[id]
		if !ok {
			return "", errors.New("org.freedesktop.DBus.Error.Failed: Not found")
		}
		return reply, nil
	}
	return "", fmt.Errorf("unknown method %s", method)
}
