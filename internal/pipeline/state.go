package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// State is a pipeline run's position.
type State int

const (
	Idle State = iota
	Extracting
	Validating
	Staging
	Merging
	Transforming
	Done
	Failed
)

var stateNames = [...]string{
	Idle:         "idle",
	Extracting:   "extracting",
	Validating:   "validating",
	Staging:      "staging",
	Merging:      "merging",
	Transforming: "transforming",
	Done:         "done",
	Failed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == Done || s == Failed }

// ErrInvalidTransition is returned by Machine.To for a move the run order
// does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// next lists the forward moves. Failed is reachable from every non-terminal
// state and is handled separately. A stage invoked on its own may start
// from Idle: extract enters Extracting, load enters Validating, transform
// enters Transforming.
var next = map[State][]State{
	Idle:         {Extracting, Validating, Transforming},
	Extracting:   {Validating, Done},
	Validating:   {Staging},
	Staging:      {Merging},
	Merging:      {Transforming, Done},
	Transforming: {Done},
}

// Observer is told about every transition.
type Observer func(from, to State)

// Machine tracks one run. It is safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	state   State
	observe Observer
	verbose bool
}

// NewMachine returns a machine in Idle. obs may be nil.
func NewMachine(obs Observer, verbose bool) *Machine {
	return &Machine{observe: obs, verbose: verbose}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To moves to s or returns an error wrapping ErrInvalidTransition.
func (m *Machine) To(s State) error {
	m.mu.Lock()
	from := m.state
	if !allowed(from, s) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, s)
	}
	m.state = s
	m.mu.Unlock()

	if m.verbose {
		log.Printf("pipeline: state %s -> %s", from, s)
	}
	if m.observe != nil {
		m.observe(from, s)
	}
	return nil
}

// Fail moves to Failed unless the run already ended.
func (m *Machine) Fail() {
	if err := m.To(Failed); err != nil && m.verbose {
		log.Printf("pipeline: %v", err)
	}
}

func allowed(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
