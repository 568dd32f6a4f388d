package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/metrics"
)

// ProxyConfig holds the aggressive-unmute timing.
type ProxyConfig struct {
	AgeThreshold  time.Duration // Processes younger than this may reset their own mute state
	FollowupDelay time.Duration // Delay between re-unmutes
	Grace         time.Duration // One more re-unmute is issued within this window past the threshold
	InboxSize     int
}

// DefaultProxyConfig returns default proxy configuration.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		AgeThreshold:  5000 * time.Millisecond,
		FollowupDelay: 1000 * time.Millisecond,
		Grace:         1000 * time.Millisecond,
		InboxSize:     256,
	}
}

// Clock abstracts time for the debounce schedule.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func())
}

type systemClock struct{}

// SystemClock returns a Clock backed by package time.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// StartTimeSource reports process start times.
type StartTimeSource interface {
	StartTime(pid int) (time.Time, bool)
}

// Muter accepts mute directives. Implemented by MuteProxy.
type Muter interface {
	Mute(pid int)
	Unmute(pid int, aggressive bool)
}

type proxyOp int

const (
	opMute proxyOp = iota
	opUnmute
	opFollowup
)

type proxyMessage struct {
	op         proxyOp
	pid        int
	aggressive bool
	startedAt  time.Time
	generation uint64
}

type trackedUnmute struct {
	startedAt  time.Time
	generation uint64
}

// MuteProxy serializes every mute request to the backend and keeps
// re-unmuting freshly launched processes until they are old enough to
// have stopped resetting their own mute flag.
type MuteProxy struct {
	config    ProxyConfig
	backend   domain.MuteBackend
	processes StartTimeSource
	clock     Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger

	inbox  chan proxyMessage
	mu     sync.Mutex
	closed bool

	// Owned by the Run goroutine.
	tracking   map[int]trackedUnmute
	generation uint64
}

// NewMuteProxy creates a proxy. Call Run in its own goroutine.
func NewMuteProxy(
	config ProxyConfig,
	backend domain.MuteBackend,
	processes StartTimeSource,
	clock Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MuteProxy {
	if clock == nil {
		clock = SystemClock()
	}
	return &MuteProxy{
		config:    config,
		backend:   backend,
		processes: processes,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		inbox:     make(chan proxyMessage, config.InboxSize),
		tracking:  make(map[int]trackedUnmute),
	}
}

// Mute requests an immediate mute of pid, cancelling any debounce for it.
func (p *MuteProxy) Mute(pid int) {
	p.enqueue(proxyMessage{op: opMute, pid: pid})
}

// Unmute requests an immediate unmute of pid. When aggressive is set and
// the process is young, follow-up unmutes are scheduled.
func (p *MuteProxy) Unmute(pid int, aggressive bool) {
	p.enqueue(proxyMessage{op: opUnmute, pid: pid, aggressive: aggressive})
}

// Run processes messages until Close is called and the inbox is drained.
func (p *MuteProxy) Run() {
	p.logger.Info("mute proxy started")
	for msg := range p.inbox {
		p.handle(msg)
	}
	p.logger.Info("mute proxy stopped")
}

// Close stops accepting messages. Follow-ups firing afterwards are dropped.
func (p *MuteProxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

func (p *MuteProxy) enqueue(msg proxyMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inbox <- msg
	return true
}

func (p *MuteProxy) handle(msg proxyMessage) {
	switch msg.op {
	case opMute:
		p.setMute(msg.pid, true)
		if _, ok := p.tracking[msg.pid]; ok {
			delete(p.tracking, msg.pid)
			p.metrics.SetTracked(len(p.tracking))
		}

	case opUnmute:
		p.setMute(msg.pid, false)
		if msg.aggressive {
			p.beginDebounce(msg.pid)
		}

	case opFollowup:
		p.followup(msg)
	}
}

func (p *MuteProxy) beginDebounce(pid int) {
	if _, busy := p.tracking[pid]; busy {
		return
	}
	startedAt, ok := p.processes.StartTime(pid)
	if !ok {
		p.logger.Debug("no start time, skipping aggressive unmute", zap.Int("pid", pid))
		return
	}
	age := p.clock.Now().Sub(startedAt)
	if age >= p.config.AgeThreshold {
		return
	}

	p.generation++
	p.tracking[pid] = trackedUnmute{startedAt: startedAt, generation: p.generation}
	p.metrics.SetTracked(len(p.tracking))
	p.logger.Debug("process is newly launched, unmuting aggressively",
		zap.Int("pid", pid),
		zap.Duration("age", age))
	p.schedule(pid, startedAt, p.generation)
}

func (p *MuteProxy) followup(msg proxyMessage) {
	entry, ok := p.tracking[msg.pid]
	if !ok || entry.generation != msg.generation {
		p.metrics.Followup(metrics.FollowupStale)
		return
	}

	age := p.clock.Now().Sub(msg.startedAt)
	switch {
	case age < p.config.AgeThreshold:
		p.metrics.Followup(metrics.FollowupRetry)
		p.setMute(msg.pid, false)
		p.schedule(msg.pid, msg.startedAt, msg.generation)

	case age < p.config.AgeThreshold+p.config.Grace:
		p.metrics.Followup(metrics.FollowupGrace)
		p.setMute(msg.pid, false)
		p.untrack(msg.pid)

	default:
		p.metrics.Followup(metrics.FollowupStable)
		p.untrack(msg.pid)
	}
}

func (p *MuteProxy) untrack(pid int) {
	delete(p.tracking, pid)
	p.metrics.SetTracked(len(p.tracking))
}

// schedule enqueues one follow-up after FollowupDelay. The timer is never
// cancelled; staleness is checked when the message arrives.
func (p *MuteProxy) schedule(pid int, startedAt time.Time, generation uint64) {
	msg := proxyMessage{op: opFollowup, pid: pid, startedAt: startedAt, generation: generation}
	p.clock.AfterFunc(p.config.FollowupDelay, func() {
		p.enqueue(msg)
	})
}

func (p *MuteProxy) setMute(pid int, mute bool) {
	err := p.backend.SetMute(pid, mute)
	p.metrics.MuteCall(mute, err)
	if err != nil {
		p.logger.Warn("could not set mute status",
			zap.Int("pid", pid),
			zap.Bool("mute", mute),
			zap.Error(err))
		return
	}
	p.logger.Info("set mute status",
		zap.Int("pid", pid),
		zap.Bool("mute", mute))
}

// Ensure MuteProxy implements Muter.
var _ Muter = (*MuteProxy)(nil)
