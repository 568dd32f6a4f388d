package daemon

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// Listener polls the focused window and reports every change to the core
// as a NewForegroundWindow command.
type Listener struct {
	interval time.Duration
	focus    domain.FocusSource
	slot     *SenderSlot
	logger   *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	last    domain.WindowHandle
	hasLast bool
}

// NewListener creates a listener delivering through slot.
func NewListener(interval time.Duration, focus domain.FocusSource, slot *SenderSlot, logger *zap.Logger) *Listener {
	return &Listener{
		interval: interval,
		focus:    focus,
		slot:     slot,
		logger:   logger,
	}
}

// Start installs send in the slot and begins polling.
func (l *Listener) Start(send Sender) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return errors.New("listener already started")
	}
	if err := l.slot.Install(send); err != nil {
		return err
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.pollLoop(l.stop, l.done)

	l.logger.Info("window listener started", zap.Duration("poll_interval", l.interval))
	return nil
}

// Stop signals the poll loop, waits for it, then clears the slot.
func (l *Listener) Stop() error {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done

	l.logger.Info("window listener stopped")
	return l.slot.Uninstall()
}

func (l *Listener) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	l.check()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.check()
		}
	}
}

// check reports the focused window if it differs from the last one seen.
func (l *Listener) check() {
	handle, err := l.focus.FocusedWindow()
	if err != nil {
		l.logger.Debug("no focused window", zap.Error(err))
		return
	}
	if l.hasLast && handle == l.last {
		return
	}
	l.last, l.hasLast = handle, true

	if !l.slot.Deliver(domain.NewForegroundWindow{Handle: handle}) {
		l.logger.Debug("dropped focus change", zap.Uint64("handle", uint64(handle)))
	}
}
