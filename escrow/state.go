package escrow

import "fmt"

// State represents the lifecycle position of an escrow. Escrow rows only ever
// hold one of the enumerated values; every write goes through CanTransition.
type State string

const (
	StateCreated          State = "CREATED"
	StateFormSubmitted    State = "FORM_SUBMITTED"
	StateAgreementPreview State = "AGREEMENT_PREVIEW"
	StateAgreed           State = "AGREED"
	StateFunded           State = "FUNDED"
	StateDelivered        State = "DELIVERED"
	StateReleaseRequested State = "RELEASE_REQUESTED"
	StateReleaseConfirmed State = "RELEASE_CONFIRMED"
	StateCompleted        State = "COMPLETED"
	StateDisputed         State = "DISPUTED"
	StateCancelled        State = "CANCELLED"
	StateExpired          State = "EXPIRED"
)

// transitions is the fixed adjacency table for escrow states. It is read-only
// process-wide data; nothing mutates it after package init.
var transitions = map[State][]State{
	StateCreated:          {StateFormSubmitted, StateCancelled},
	StateFormSubmitted:    {StateAgreementPreview, StateCancelled},
	StateAgreementPreview: {StateAgreed, StateCancelled},
	StateAgreed:           {StateFunded, StateCancelled},
	StateFunded:           {StateDelivered, StateDisputed, StateCancelled},
	StateDelivered:        {StateReleaseRequested, StateDisputed},
	StateReleaseRequested: {StateReleaseConfirmed, StateDisputed},
	StateReleaseConfirmed: {StateCompleted},
	StateCompleted:        {},
	StateDisputed:         {StateReleaseConfirmed, StateCancelled},
	StateCancelled:        {},
	StateExpired:          {},
}

// ValidState reports whether s is a member of the enumerated state set.
func ValidState(s State) bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0 && ValidState(s)
}

// CanTransition reports whether the edge from -> to exists in the table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a requested state change is not an
// edge of the transition table. It usually means the action raced another
// party and is no longer available.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("escrow: invalid transition %s -> %s", e.From, e.To)
}
