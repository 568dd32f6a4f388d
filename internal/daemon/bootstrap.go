package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// runningChecker finds the live daemon instance.
type runningChecker interface {
	Running() (*domain.InstanceEntry, error)
}

// StartDetached spawns `<executable> daemon <args...>` detached from the
// controlling terminal.
func StartDetached(executable string, args ...string) (int, error) {
	cmd := exec.Command(executable, append([]string{"daemon"}, args...)...)

	// New session, no stdio: the daemon logs to its own file
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Not waited on
	_ = cmd.Process.Release()
	return pid, nil
}

// StartBackground starts a daemon unless one is already running, then waits
// up to timeout for it to register.
func StartBackground(instance runningChecker, timeout time.Duration, args ...string) (*domain.InstanceEntry, error) {
	if entry, err := instance.Running(); err == nil && entry != nil {
		return entry, fmt.Errorf("%w (pid %d)", domain.ErrAlreadyRunning, entry.PID)
	}

	executable, err := os.Executable()
	if err != nil {
		return nil, err
	}
	pid, err := StartDetached(executable, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start daemon: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		entry, err := instance.Running()
		if err == nil && entry != nil && entry.PID == pid {
			return entry, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("daemon (pid %d) did not register within %s", pid, timeout)
}
