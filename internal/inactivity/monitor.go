// Package inactivity ends a session after a period with no user interaction.
//
// A [Monitor] runs two timers while a session exists: a warning timer at
// Timeout-Warning and an expiry timer at Timeout. Every activity signal
// re-arms both. Callbacks from timers that were re-armed or stopped are
// discarded by generation, so a late fire never acts on a newer session.
package inactivity

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Signal is a user-activity event that resets the idle timers.
type Signal string

const (
	PointerDown Signal = "pointerdown"
	KeyDown     Signal = "keydown"
	Scroll      Signal = "scroll"
	TouchStart  Signal = "touchstart"
)

// Signals lists the activity signals the monitor accepts.
var Signals = []Signal{PointerDown, KeyDown, Scroll, TouchStart}

// Valid reports whether s is an accepted activity signal.
func (s Signal) Valid() bool {
	switch s {
	case PointerDown, KeyDown, Scroll, TouchStart:
		return true
	}
	return false
}

// Config holds the idle policy.
type Config struct {
	Timeout time.Duration
	Warning time.Duration
}

// Validate checks that the warning fires strictly before expiry.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("inactivity timeout must be > 0")
	}
	if c.Warning < 0 || c.Warning >= c.Timeout {
		return errors.New("inactivity warning must be >= 0 and < timeout")
	}
	return nil
}

// Monitor tracks idle time for one session at a time.
type Monitor struct {
	config   Config
	clock    clockwork.Clock
	onWarn   func(remaining time.Duration)
	onExpire func()

	mu           sync.Mutex
	running      bool
	gen          uint64
	warnTimer    clockwork.Timer
	expireTimer  clockwork.Timer
	lastActivity time.Time
}

// New creates a stopped monitor. onWarn receives the time left before
// expiry; onExpire runs once per started session at most.
func New(cfg Config, clock clockwork.Clock, onWarn func(time.Duration), onExpire func()) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		config:   cfg,
		clock:    clock,
		onWarn:   onWarn,
		onExpire: onExpire,
	}
}

// Start arms both timers. Starting a running monitor re-arms it.
func (m *Monitor) Start() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.armLocked()
}

// Touch records an activity signal. It is ignored while stopped and for
// unknown signals.
func (m *Monitor) Touch(sig Signal) bool {
	if m == nil || !sig.Valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.armLocked()
	return true
}

// Stop cancels both timers. Pending callbacks are discarded.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.gen++
	m.stopTimersLocked()
}

// Running reports whether the monitor is armed.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Deadline returns when the session expires if no further activity occurs.
func (m *Monitor) Deadline() (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return time.Time{}, false
	}
	return m.lastActivity.Add(m.config.Timeout), true
}

func (m *Monitor) armLocked() {
	m.gen++
	gen := m.gen
	m.stopTimersLocked()
	m.lastActivity = m.clock.Now()

	warnAfter := m.config.Timeout - m.config.Warning
	if m.config.Warning > 0 && warnAfter > 0 {
		m.warnTimer = m.clock.AfterFunc(warnAfter, func() { m.fireWarning(gen) })
	}
	m.expireTimer = m.clock.AfterFunc(m.config.Timeout, func() { m.fireExpiry(gen) })
}

func (m *Monitor) stopTimersLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
}

func (m *Monitor) fireWarning(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	remaining := m.config.Warning
	m.mu.Unlock()

	if m.onWarn != nil {
		m.onWarn(remaining)
	}
}

func (m *Monitor) fireExpiry(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.gen++
	m.stopTimersLocked()
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire()
	}
}
