// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"sort"
	"strings"
	"time"
)

// ProgramPath identifies an executable by its full filesystem path.
// Comparison is case-insensitive; the original spelling is kept for display.
type ProgramPath string

// Key returns the case-folded form used for equality and map lookups.
func (p ProgramPath) Key() string {
	return strings.ToLower(string(p))
}

// Equal reports whether two paths name the same program.
func (p ProgramPath) Equal(other ProgramPath) bool {
	return strings.EqualFold(string(p), string(other))
}

// Less orders paths case-insensitively, falling back to the raw spelling
// so that the order is total.
func (p ProgramPath) Less(other ProgramPath) bool {
	a, b := p.Key(), other.Key()
	if a != b {
		return a < b
	}
	return string(p) < string(other)
}

func (p ProgramPath) String() string {
	return string(p)
}

// ManagedApps is the set of programs muted while in the background.
// The zero value is an empty, usable set.
type ManagedApps struct {
	apps map[string]ProgramPath
}

// NewManagedApps builds a set from the given paths. Duplicates differing
// only in case collapse to the first spelling seen.
func NewManagedApps(paths ...ProgramPath) ManagedApps {
	m := ManagedApps{apps: make(map[string]ProgramPath, len(paths))}
	for _, p := range paths {
		m.Add(p)
	}
	return m
}

// Contains reports whether path is managed.
func (m ManagedApps) Contains(path ProgramPath) bool {
	_, ok := m.apps[path.Key()]
	return ok
}

// Add inserts path and reports whether the set changed.
func (m *ManagedApps) Add(path ProgramPath) bool {
	if m.apps == nil {
		m.apps = make(map[string]ProgramPath)
	}
	key := path.Key()
	if _, ok := m.apps[key]; ok {
		return false
	}
	m.apps[key] = path
	return true
}

// Remove deletes path and reports whether the set changed.
func (m *ManagedApps) Remove(path ProgramPath) bool {
	key := path.Key()
	if _, ok := m.apps[key]; !ok {
		return false
	}
	delete(m.apps, key)
	return true
}

// Len returns the number of managed apps.
func (m ManagedApps) Len() int {
	return len(m.apps)
}

// Sorted returns the members in case-insensitive order.
func (m ManagedApps) Sorted() []ProgramPath {
	out := make([]ProgramPath, 0, len(m.apps))
	for _, p := range m.apps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Clone returns an independent copy.
func (m ManagedApps) Clone() ManagedApps {
	return NewManagedApps(m.Sorted()...)
}

// Policy is the persisted automute configuration.
type Policy struct {
	Enabled       bool
	ManagedApps   ManagedApps
	MaxRecentApps int
}

// Default policy values written on first run.
const (
	DefaultEnabled       = true
	DefaultMaxRecentApps = 10
)

// DefaultPolicy returns the policy written when no document exists yet.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:       DefaultEnabled,
		ManagedApps:   NewManagedApps(),
		MaxRecentApps: DefaultMaxRecentApps,
	}
}

// IsManaged reports whether path is subject to automatic muting.
func (p Policy) IsManaged(path ProgramPath) bool {
	return p.ManagedApps.Contains(path)
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	p.ManagedApps = p.ManagedApps.Clone()
	return p
}

// WindowHandle is an opaque platform window identifier.
type WindowHandle uint64

// Window is a resolved top-level window.
type Window struct {
	Handle      WindowHandle
	PID         int
	ProgramPath ProgramPath
}

// PolicySnapshot is published to the UI after the policy is (re)loaded.
type PolicySnapshot struct {
	Enabled       bool
	ManagedApps   []ProgramPath
	MaxRecentApps int
}

// Snapshot converts the policy into its UI representation.
func (p Policy) Snapshot() PolicySnapshot {
	return PolicySnapshot{
		Enabled:       p.Enabled,
		ManagedApps:   p.ManagedApps.Sorted(),
		MaxRecentApps: p.MaxRecentApps,
	}
}

// InstanceEntry describes the running automute daemon.
// Persisted next to the data dir so that CLI commands can find it.
type InstanceEntry struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	AppVersion string    `json:"app_version,omitempty"`
	ConfigPath string    `json:"config_path,omitempty"`
}
