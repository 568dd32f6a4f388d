// Package infra implements platform concerns (processes, windows, audio, storage).
package infra

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// ProcessDirectoryImpl implements domain.ProcessDirectory using gopsutil.
type ProcessDirectoryImpl struct{}

// NewProcessDirectory creates a new process directory.
func NewProcessDirectory() *ProcessDirectoryImpl {
	return &ProcessDirectoryImpl{}
}

// FindPIDsByPath returns PIDs of processes whose executable matches path
// (case-insensitive).
func (pd *ProcessDirectoryImpl) FindPIDsByPath(path domain.ProgramPath) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	for _, p := range procs {
		exe, err := p.Exe()
		if err != nil {
			continue // Exited, or owned by another user
		}
		if path.Equal(domain.ProgramPath(exe)) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// StartTime returns when pid was started. False if the process is gone.
func (pd *ProcessDirectoryImpl) StartTime(pid int) (time.Time, bool) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}, false
	}
	ms, err := p.CreateTime()
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// ExecutablePath returns the program path of pid.
func (pd *ProcessDirectoryImpl) ExecutablePath(pid int) (domain.ProgramPath, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	exe, err := p.Exe()
	if err != nil {
		return "", err
	}
	return domain.ProgramPath(exe), nil
}

// IsRunning checks if a PID exists and is running.
func (pd *ProcessDirectoryImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes for existence; EPERM means it exists under another user
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Ensure ProcessDirectoryImpl implements domain.ProcessDirectory.
var _ domain.ProcessDirectory = (*ProcessDirectoryImpl)(nil)
