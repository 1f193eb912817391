package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rmaffei/crmlink/internal/bus"
)

// State represents the connection lifecycle state.
type State string

const (
	Idle       State = "IDLE"
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closing    State = "CLOSING"
	Closed     State = "CLOSED"
	// Failed is reached when reconnect attempts are exhausted or no
	// credential is available. Terminal until an explicit reconnect.
	Failed State = "FAILED"
)

// validTransitions defines allowed state transitions. Open -> Connecting
// is the reconnect path after an unexpected close.
var validTransitions = map[State][]State{
	Idle:       {Connecting, Closed},
	Connecting: {Open, Closing, Closed, Failed},
	Open:       {Connecting, Closing, Closed, Failed},
	Closing:    {Closed},
	Closed:     {Connecting},
	Failed:     {Connecting, Closed},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Transitioning to the current
// state is a no-op. Returns an error if the transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	From State
	To   State
}
