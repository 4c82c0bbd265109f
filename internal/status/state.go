package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
)

// State represents the lifecycle state of one realtime channel.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
// Disconnected and Error are terminal until the next Connect.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Error, Disconnected},
	Connected:    {Reconnecting, Disconnected, Error},
	Reconnecting: {Connected, Error, Disconnected},
	Error:        {Connecting, Disconnected},
}

// Terminal reports whether s needs an explicit Connect to leave.
func (s State) Terminal() bool {
	return s == Disconnected || s == Error
}

// Machine tracks and enforces the state transitions of a single channel.
type Machine struct {
	mu      sync.RWMutex
	channel string
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine for channel starting in Disconnected.
func NewMachine(channel string, b *bus.Bus) *Machine {
	return &Machine{
		channel: channel,
		current: Disconnected,
		since:   time.Now(),
		bus:     b,
	}
}

// Channel returns the channel name this machine tracks.
func (m *Machine) Channel() string {
	return m.channel
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// cause is attached to the published change and may be nil.
func (m *Machine) Transition(to State, cause error) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return Change{}, fmt.Errorf("%s: invalid transition from %s to %s", m.channel, m.current, to)
	}
	change := Change{Channel: m.channel, From: m.current, To: to, Err: cause}
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.ConnStateKind(m.channel),
			Timestamp: m.since,
			Payload:   change,
		})
	}
	return change, nil
}

// Change is the payload for state change events.
type Change struct {
	Channel string
	From    State
	To      State
	Err     error
}
