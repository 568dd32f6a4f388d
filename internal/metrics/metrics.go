// Package metrics exposes Prometheus instrumentation for the automuter.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Debounce follow-up outcomes.
const (
	FollowupRetry  = "retry"
	FollowupGrace  = "grace"
	FollowupStable = "stable"
	FollowupStale  = "stale"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Registry *prometheus.Registry

	CoreCommands      *prometheus.CounterVec
	MuteCalls         *prometheus.CounterVec
	DebounceFollowups *prometheus.CounterVec
	DebounceTracked   prometheus.Gauge
	ManagedApps       prometheus.Gauge
}

// New creates the collectors on a fresh registry, so that several
// instances (e.g. in tests) never collide on the default registerer.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CoreCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automute_core_commands_total",
				Help: "Commands processed by the core state machine",
			},
			[]string{"command"},
		),
		MuteCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automute_mute_calls_total",
				Help: "Calls to the platform mute backend",
			},
			[]string{"action", "result"},
		),
		DebounceFollowups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automute_debounce_followups_total",
				Help: "Aggressive-unmute follow-ups handled, by outcome",
			},
			[]string{"outcome"},
		),
		DebounceTracked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "automute_debounce_tracked",
				Help: "Processes currently inside their aggressive-unmute window",
			},
		),
		ManagedApps: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "automute_managed_apps",
				Help: "Number of programs in the managed set",
			},
		),
	}
}

// CommandProcessed counts one core command.
func (m *Metrics) CommandProcessed(command string) {
	if m == nil {
		return
	}
	m.CoreCommands.WithLabelValues(command).Inc()
}

// MuteCall counts one backend call.
func (m *Metrics) MuteCall(mute bool, err error) {
	if m == nil {
		return
	}
	action := "unmute"
	if mute {
		action = "mute"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MuteCalls.WithLabelValues(action, result).Inc()
}

// Followup counts one debounce follow-up.
func (m *Metrics) Followup(outcome string) {
	if m == nil {
		return
	}
	m.DebounceFollowups.WithLabelValues(outcome).Inc()
}

// SetTracked records how many pids are under debounce.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.DebounceTracked.Set(float64(n))
}

// SetManagedApps records the managed set size.
func (m *Metrics) SetManagedApps(n int) {
	if m == nil {
		return
	}
	m.ManagedApps.Set(float64(n))
}
