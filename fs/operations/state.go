package operations

import (
	"fmt"

	"github.com/ddrive/ddrive/fs"
)

// State is a step an operation goes through
type State byte

// States of Upload, Download and Delete
const (
	StateValidating State = iota
	StateSplitting
	StatePlacing
	StateLookup
	StateTransferring
	StateMerging
	StateCommitting
	StateDone
	StateFailed
)

var stateNames = []string{
	StateValidating:   "Validating",
	StateSplitting:    "Splitting",
	StatePlacing:      "Placing",
	StateLookup:       "Lookup",
	StateTransferring: "Transferring",
	StateMerging:      "Merging",
	StateCommitting:   "Committing",
	StateDone:         "Done",
	StateFailed:       "Failed",
}

// String turns a State into a string
func (s State) String() string {
	if int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", s)
	}
	return stateNames[s]
}

// Terminal returns whether no more transitions follow s
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Operation names what the engine is doing
type Operation string

// Operations reported to the state observer
const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpDelete   Operation = "delete"
)

// StateFunc observes state transitions of an operation on the file
// called name
type StateFunc func(op Operation, name string, state State)

// tracker reports the states of one operation
type tracker struct {
	e     *Engine
	op    Operation
	name  string
	state State
}

func (e *Engine) track(op Operation, name string) *tracker {
	return &tracker{e: e, op: op, name: name}
}

// to moves the operation into state
func (t *tracker) to(state State) {
	t.state = state
	fs.Debugf(t.name, "%s: %v", t.op, state)
	if t.e.opt.OnState != nil {
		t.e.opt.OnState(t.op, t.name, state)
	}
}

// fail moves the operation to StateFailed and returns err
func (t *tracker) fail(err error) error {
	fs.Debugf(t.name, "%s failed while %v: %v", t.op, t.state, err)
	t.to(StateFailed)
	return err
}
