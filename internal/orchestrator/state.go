package orchestrator

import "fmt"

// State is the position of a chapter in the translation state machine.
type State string

const (
	Pending   State = "pending"
	Batched   State = "batched"
	Requested State = "requested"
	Retrying  State = "retrying"
	Completed State = "completed"
	Failed    State = "failed"
)

// transitions lists the states reachable from each state. Requested may
// follow itself when the next batch of a chapter is sent.
var transitions = map[State][]State{
	Pending:   {Batched, Failed},
	Batched:   {Requested, Completed, Failed},
	Requested: {Requested, Retrying, Completed, Failed},
	Retrying:  {Requested, Failed},
}

// CanTransition reports whether a chapter may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// machine tracks one chapter. An illegal transition is a bug in the
// orchestrator and panics.
type machine struct {
	state State
	emit  func(State)
}

func (m *machine) to(next State) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", m.state, next))
	}
	m.state = next
	if m.emit != nil {
		m.emit(next)
	}
}
