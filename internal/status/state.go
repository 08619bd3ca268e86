// Package status tracks the push-channel connection lifecycle as an explicit
// state machine. The transport drives it; everything else observes it through
// the bus or Current().
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chatterd/chatterd/internal/bus"
)

// State is a connection lifecycle state.
type State string

const (
	// Idle: no connection has been attempted yet.
	Idle State = "IDLE"
	// Connecting: a dial is in flight.
	Connecting State = "CONNECTING"
	// Open: the push channel is live; Send is permitted.
	Open State = "OPEN"
	// Closed: the channel is down; a retry is scheduled.
	Closed State = "CLOSED"
	// Down: the retry ceiling was hit; only a manual reconnect re-arms.
	Down State = "DOWN"
)

var validTransitions = map[State][]State{
	Idle:       {Connecting},
	Connecting: {Open, Closed},
	Open:       {Closed},
	Closed:     {Connecting, Down},
	Down:       {Connecting},
}

// Machine enforces connection state transitions and announces them.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Idle state. The bus may be nil in tests.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state, publishing a
// conn.state_changed event on success.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.ConnStateChanged, Change{From: from, To: to})
	}
	return nil
}

// Change is the payload of conn.state_changed events.
type Change struct {
	From State
	To   State
}
