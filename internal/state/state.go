// Package state owns the recording lifecycle state machine.
package state

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is one of the three lifecycle phases the daemon can be in.
type State string

const (
	Idle       State = "idle"
	Recording  State = "recording"
	Processing State = "processing"
)

// transitions maps each state to the set of states it may move to.
// Recording -> Idle models cancellation. The table is total and is
// never mutated after init.
var transitions = map[State]map[State]bool{
	Idle:       {Recording: true},
	Recording:  {Processing: true, Idle: true},
	Processing: {Idle: true},
}

// Listener observes successful transitions as (previous, next) pairs.
type Listener func(previous, next State)

// Machine is the single source of truth for lifecycle state. All
// transition attempts serialize through its lock; listeners run outside
// the lock in registration order.
type Machine struct {
	logger *slog.Logger

	mu        sync.Mutex
	current   State
	listeners []Listener
}

// NewMachine returns a machine starting in Idle.
func NewMachine(logger *slog.Logger) *Machine {
	return &Machine{logger: logger, current: Idle}
}

// Transition attempts to move to target. It returns false and leaves the
// state unchanged when the transition table forbids the move; no
// listeners fire on rejection. On success every registered listener is
// invoked with (previous, target) after the lock is released; a
// panicking listener is contained and does not stop later listeners.
func (m *Machine) Transition(target State) bool {
	m.mu.Lock()
	if !transitions[m.current][target] {
		previous := m.current
		m.mu.Unlock()
		m.logWarn("invalid state transition", previous, target)
		return false
	}
	previous := m.current
	m.current = target
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logInfo("state transition", previous, target)
	for _, listener := range listeners {
		m.invoke(listener, previous, target)
	}
	return true
}

// Current returns the current lifecycle state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnChange registers a listener called on every successful transition.
// Listeners cannot be removed; registration order is call order.
func (m *Machine) OnChange(listener Listener) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// IsIdle reports whether the machine is in Idle.
func (m *Machine) IsIdle() bool { return m.Current() == Idle }

// IsRecording reports whether the machine is in Recording.
func (m *Machine) IsRecording() bool { return m.Current() == Recording }

// IsProcessing reports whether the machine is in Processing.
func (m *Machine) IsProcessing() bool { return m.Current() == Processing }

// invoke runs one listener with panic containment so a misbehaving
// observer cannot roll back the transition or starve later listeners.
func (m *Machine) invoke(listener Listener, previous, next State) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("state listener panicked", "panic", fmt.Sprint(r))
		}
	}()
	listener(previous, next)
}

func (m *Machine) logWarn(message string, from, to State) {
	if m.logger == nil {
		return
	}
	m.logger.Warn(message, "from", string(from), "to", string(to))
}

func (m *Machine) logInfo(message string, from, to State) {
	if m.logger == nil {
		return
	}
	m.logger.Info(message, "from", string(from), "to", string(to))
}
