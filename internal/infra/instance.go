package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// ErrNotRunning is returned when no live daemon is recorded.
var ErrNotRunning = errors.New("automute is not running")

// livenessChecker reports whether a pid is running.
type livenessChecker interface {
	IsRunning(pid int) bool
}

// InstanceFile records the running daemon in a JSON file guarded by flock,
// so that only one automute runs per user.
type InstanceFile struct {
	path     string
	liveness livenessChecker
}

// NewInstanceFile creates an instance file handle at path.
func NewInstanceFile(path string, liveness livenessChecker) *InstanceFile {
	return &InstanceFile{path: path, liveness: liveness}
}

// Path returns the instance file location.
func (f *InstanceFile) Path() string {
	return f.path
}

// Acquire registers entry as the running instance. Fails with
// domain.ErrAlreadyRunning if a live process already holds it.
func (f *InstanceFile) Acquire(entry domain.InstanceEntry) error {
	return f.locked(func() error {
		current, err := f.read()
		if err != nil {
			return err
		}
		if current != nil && current.PID != entry.PID && f.liveness.IsRunning(current.PID) {
			return fmt.Errorf("%w (pid %d)", domain.ErrAlreadyRunning, current.PID)
		}
		return f.atomicWrite(entry)
	})
}

// Release removes the instance file if it still belongs to pid.
func (f *InstanceFile) Release(pid int) error {
	return f.locked(func() error {
		current, err := f.read()
		if err != nil || current == nil || current.PID != pid {
			return err
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// Running returns the live instance, or nil if none is running.
func (f *InstanceFile) Running() (*domain.InstanceEntry, error) {
	entry, err := f.read()
	if err != nil || entry == nil {
		return nil, err
	}
	if !f.liveness.IsRunning(entry.PID) {
		return nil, nil
	}
	return entry, nil
}

// Signal delivers sig to the running instance.
func (f *InstanceFile) Signal(sig unix.Signal) (*domain.InstanceEntry, error) {
	entry, err := f.Running()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotRunning
	}
	if err := unix.Kill(entry.PID, sig); err != nil {
		return entry, fmt.Errorf("failed to signal pid %d: %w", entry.PID, err)
	}
	return entry, nil
}

// Uptime returns how long entry has been running.
func Uptime(entry domain.InstanceEntry) time.Duration {
	return time.Since(entry.StartedAt).Truncate(time.Second)
}

func (f *InstanceFile) locked(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	lockFile, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN) }()

	return fn()
}

func (f *InstanceFile) read() (*domain.InstanceEntry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.InstanceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A torn or foreign file never blocks startup.
		return nil, nil
	}
	return &entry, nil
}

// atomicWrite writes entry to file atomically (write + rename).
func (f *InstanceFile) atomicWrite(entry domain.InstanceEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", f.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
