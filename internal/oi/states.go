package oi

import "comicsdb/api/internal/store"

type Action string

const (
	ActionSubmit     Action = "submit"
	ActionRetract    Action = "retract"
	ActionDiscard    Action = "discard"
	ActionAssign     Action = "assign"
	ActionRelease    Action = "release"
	ActionApprove    Action = "approve"
	ActionDisapprove Action = "disapprove"
)

var Actions = []Action{ActionSubmit, ActionRetract, ActionDiscard, ActionAssign, ActionRelease, ActionApprove, ActionDisapprove}

// transitions lists the states each action may start from and the state
// it leads to. submit may also land in REVIEWING; see Submit.
var transitions = map[Action]struct {
	from []store.State
	to   store.State
}{
	ActionSubmit:     {from: []store.State{store.StateOpen}, to: store.StatePending},
	ActionRetract:    {from: []store.State{store.StatePending}, to: store.StateOpen},
	ActionDiscard:    {from: []store.State{store.StateOpen, store.StatePending, store.StateReviewing}, to: store.StateDiscarded},
	ActionAssign:     {from: []store.State{store.StatePending}, to: store.StateReviewing},
	ActionRelease:    {from: []store.State{store.StateReviewing}, to: store.StatePending},
	ActionApprove:    {from: []store.State{store.StateReviewing}, to: store.StateApproved},
	ActionDisapprove: {from: []store.State{store.StateReviewing}, to: store.StateOpen},
}

// Allowed reports whether action may be taken on a changeset in state.
func Allowed(state store.State, action Action) bool {
	t, ok := transitions[action]
	if !ok {
		return false
	}
	for _, from := range t.from {
		if from == state {
			return true
		}
	}
	return false
}

func checkTransition(cs store.Changeset, action Action) error {
	if !Allowed(cs.State, action) {
		return illegalTransition(cs.State, action)
	}
	return nil
}
