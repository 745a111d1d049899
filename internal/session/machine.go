package session

import (
	"fmt"
	"sync"
)

// State is a session's lifecycle phase.
type State int

const (
	// Connecting: transport established, no messages exchanged yet.
	Connecting State = iota
	// Handshaking: Hello exchange in progress.
	Handshaking
	// Synced: steady state, playback messages flowing.
	Synced
	// Degraded: nothing heard within the liveness window; the last known
	// state is kept but the delay estimate is distrusted.
	Degraded
	// Closed: torn down. Terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Synced:
		return "synced"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrIllegalTransition marks a transition the lifecycle does not allow.
var ErrIllegalTransition = fmt.Errorf("session: illegal transition")

// legalTransitions is the lifecycle table. Closed has no exits.
var legalTransitions = map[State][]State{
	Connecting:  {Handshaking, Closed},
	Handshaking: {Synced, Closed},
	Synced:      {Degraded, Closed},
	Degraded:    {Synced, Closed},
	Closed:      {},
}

// Machine tracks one session's state and rejects illegal transitions.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine starts in Connecting.
func NewMachine() *Machine {
	return &Machine{state: Connecting}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state, or fails if the lifecycle does
// not allow it. Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to {
		return nil
	}
	for _, legal := range legalTransitions[m.state] {
		if legal == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to)
}
