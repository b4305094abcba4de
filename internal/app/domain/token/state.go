package token

import "fmt"

// State is a lifecycle state ordinal. Ordinals are part of the external
// contract and never change.
type State uint8

const (
	StateCreated   State = 1
	StateMatched   State = 2
	StateCompleted State = 3
	StateRated     State = 4
	StatePaid      State = 5

	// StateFinished is the simplified variant's terminal state. It shares
	// ordinal 3 with StateCompleted; the active variant decides the name.
	StateFinished State = 3
)

// Variant selects which lifecycle rule set a registry enforces.
type Variant string

const (
	// VariantFull runs the five-state lifecycle with ratings and evidence
	// minting: Created, Matched, Completed, Rated, Paid.
	VariantFull Variant = "full"
	// VariantSimplified runs the three-state lifecycle: Created, Matched,
	// Finished. No ratings, no evidence tokens.
	VariantSimplified Variant = "simplified"
)

// Precondition is an extra requirement attached to a transition edge.
type Precondition int

const (
	// RequireRating demands a rating in [1,5] on entry.
	RequireRating Precondition = iota + 1
	// RequireCompanion demands an assigned companion on entry.
	RequireCompanion
)

// Edge is one allowed transition target with its preconditions.
type Edge struct {
	Target        State
	Preconditions []Precondition
}

// Defined reports whether s is a member of the variant's enum.
func (v Variant) Defined(s State) bool {
	if v == VariantSimplified {
		return s >= StateCreated && s <= StateFinished
	}
	return s >= StateCreated && s <= StatePaid
}

// ParseState decodes an integer ordinal, rejecting anything outside the
// variant's enum.
func (v Variant) ParseState(n int) (State, error) {
	max := int(StatePaid)
	if v == VariantSimplified {
		max = int(StateFinished)
	}
	if n < int(StateCreated) || n > max {
		return 0, fmt.Errorf("state ordinal %d out of range [1,%d]", n, max)
	}
	return State(n), nil
}

// AllowedNext returns the transition edges leaving current. The whole
// invariant surface of the state machine lives in this one table.
func (v Variant) AllowedNext(current State) []Edge {
	if v == VariantSimplified {
		switch current {
		case StateMatched:
			return []Edge{{Target: StateFinished}}
		default:
			// Created has no changeState edge; Matched is reachable only
			// through companion assignment. Finished is terminal.
			return nil
		}
	}

	switch current {
	case StateCreated:
		return []Edge{{Target: StateMatched}}
	case StateMatched:
		return []Edge{{Target: StateCompleted}}
	case StateCompleted:
		return []Edge{{Target: StateRated, Preconditions: []Precondition{RequireRating}}}
	case StateRated:
		return []Edge{{Target: StatePaid, Preconditions: []Precondition{RequireCompanion}}}
	default:
		// Paid is terminal.
		return nil
	}
}

// Name returns the variant-specific label for a state.
func (v Variant) Name(s State) string {
	if v == VariantSimplified {
		switch s {
		case StateCreated:
			return "created"
		case StateMatched:
			return "matched"
		case StateFinished:
			return "finished"
		}
		return fmt.Sprintf("state(%d)", s)
	}

	switch s {
	case StateCreated:
		return "created"
	case StateMatched:
		return "matched"
	case StateCompleted:
		return "completed"
	case StateRated:
		return "rated"
	case StatePaid:
		return "paid"
	}
	return fmt.Sprintf("state(%d)", s)
}

// States lists the variant's enum members in ordinal order.
func (v Variant) States() []State {
	if v == VariantSimplified {
		return []State{StateCreated, StateMatched, StateFinished}
	}
	return []State{StateCreated, StateMatched, StateCompleted, StateRated, StatePaid}
}
