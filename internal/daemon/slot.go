package daemon

import (
	"errors"
	"sync"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

var (
	// ErrSenderInstalled is returned when Install finds a sender already present.
	ErrSenderInstalled = errors.New("command sender already installed")

	// ErrNoSender is returned when Uninstall finds the slot empty.
	ErrNoSender = errors.New("no command sender installed")
)

// Sender delivers a command to the core.
type Sender func(cmd domain.Command) bool

// SenderSlot holds at most one Sender. Platform focus callbacks that cannot
// carry their own context read the sender from here.
type SenderSlot struct {
	mu   sync.Mutex
	send Sender
}

// activeSender is the process-wide slot used by the window listener.
var activeSender SenderSlot

// ActiveSender returns the process-wide slot.
func ActiveSender() *SenderSlot {
	return &activeSender
}

// Install stores send. Exactly one installer may hold the slot.
func (s *SenderSlot) Install(send Sender) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send != nil {
		return ErrSenderInstalled
	}
	s.send = send
	return nil
}

// Uninstall clears the slot.
func (s *SenderSlot) Uninstall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send == nil {
		return ErrNoSender
	}
	s.send = nil
	return nil
}

// Deliver sends cmd through the installed sender. Returns false if the slot
// is empty or the sender refused the command.
func (s *SenderSlot) Deliver(cmd domain.Command) bool {
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send == nil {
		return false
	}
	return send(cmd)
}
