// Package jobcontrol implements the stub's state machine and the
// platform-specific timing/ioctl quirks of spec.md §4.2: the initial lag
// differs between Linux and BSD-family kernels, and BSD
// additionally needs a termios perturbation ("the BSD kick") to make an
// already-blocked reader re-examine its eligibility.
package jobcontrol

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is one node of the stub's job-control state machine (spec.md §4.2,
// "State machine for the stub").
type State string

const (
	StateIdle     State = "idle"
	StateStepping State = "stepping"
	StateTerminal State = "terminal"
)

// Event is one trigger the stub's main loop reacts to.
type Event string

const (
	EventCtlStep      Event = "ctl_step"      // 's' byte arrived on the control pipe
	EventStepSuccess  Event = "step_success"  // step() observed the slave blocked reading
	EventStepFailure  Event = "step_failure"  // step() observed the slave still busy
	EventSlaveDied    Event = "slave_died"    // waitpid reported exit/signal
	EventCtlEOF       Event = "ctl_eof"       // control pipe closed
)

// Transition names the action the stub performs on a (State, Event) pair.
type Transition struct {
	Next   State
	Action string
}

// Table is the ordered transition table from spec.md §4.2's state machine
// table, keyed first by state (in the order the spec lists them) then by
// event. Using an ordered map keeps iteration (e.g. for documentation
// dumps or tests that walk every transition) in the same order as the spec.
type Table struct {
	states *orderedmap.OrderedMap[State, *orderedmap.OrderedMap[Event, Transition]]
}

// NewTable builds the stub's transition table.
func NewTable() *Table {
	idle := orderedmap.New[Event, Transition]()
	idle.Set(EventCtlStep, Transition{Next: StateStepping, Action: "begin step loop"})
	idle.Set(EventCtlEOF, Transition{Next: StateTerminal, Action: "exit"})

	stepping := orderedmap.New[Event, Transition]()
	stepping.Set(EventStepSuccess, Transition{Next: StateIdle, Action: "emit r"})
	stepping.Set(EventStepFailure, Transition{Next: StateStepping, Action: "multiply lag; retry"})
	stepping.Set(EventSlaveDied, Transition{Next: StateTerminal, Action: "emit d<sig><code>; exit"})

	// "Any" row from the spec's table: slave death can interrupt idle too,
	// since the stub's waitpid for the previous step may race the next 's'.
	idle.Set(EventSlaveDied, Transition{Next: StateTerminal, Action: "emit d<sig><code>; exit"})

	states := orderedmap.New[State, *orderedmap.OrderedMap[Event, Transition]]()
	states.Set(StateIdle, idle)
	states.Set(StateStepping, stepping)

	return &Table{states: states}
}

// Step looks up the transition for (s, e). ok is false if no transition is
// defined — the stub treats that as a programming error, never a runtime
// condition to recover from.
func (t *Table) Step(s State, e Event) (Transition, bool) {
	events, ok := t.states.Get(s)
	if !ok {
		return Transition{}, false
	}
	return events.Get(e)
}

// States returns the states in spec order, for tests/diagnostics that want
// to walk the whole machine.
func (t *Table) States() []State {
	out := make([]State, 0, t.states.Len())
	for pair := t.states.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}
