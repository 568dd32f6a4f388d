package fixtures

import (
	"sync"

	"github.com/eliteGoblin/focusd/automute/internal/infra"
)

// ControlRecorder stands in for the session bus: it keeps the handler a
// daemon exports so a test can call it the way the CLI would.
type ControlRecorder struct {
	mu       sync.Mutex
	handler  infra.ControlHandler
	released bool
}

func (r *ControlRecorder) Export(handler infra.ControlHandler) (func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler, r.released = handler, false
	return func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.released = true
		return nil
	}, nil
}

// Handler returns the exported handler, or nil before export.
func (r *ControlRecorder) Handler() infra.ControlHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

// Released reports whether the daemon withdrew its handler.
func (r *ControlRecorder) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
