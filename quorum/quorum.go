// Package quorum decides whether a joint multi-party condition is satisfied.
//
// A Tracker holds the required identity set; callers feed it the distinct
// actors observed in a durable acknowledgement stream. Duplicate
// contributions from one actor are idempotent by construction: only set
// membership matters.
package quorum

// Outcome is the result of evaluating contributions against the required set.
type Outcome int

const (
	Pending Outcome = iota
	Satisfied
)

func (o Outcome) String() string {
	if o == Satisfied {
		return "satisfied"
	}
	return "pending"
}

// Tracker is an immutable required-identity set.
type Tracker struct {
	required []string
}

// NewTracker builds a tracker over the given required identities. Empty
// identities are ignored; duplicates collapse.
func NewTracker(required ...string) Tracker {
	seen := make(map[string]struct{}, len(required))
	kept := make([]string, 0, len(required))
	for _, id := range required {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, id)
	}
	return Tracker{required: kept}
}

// Evaluate reports Satisfied when acknowledged covers every required
// identity. Extra acknowledgements from identities outside the required set
// never contribute.
func (t Tracker) Evaluate(acknowledged []string) Outcome {
	if len(t.required) == 0 {
		return Satisfied
	}
	have := make(map[string]struct{}, len(acknowledged))
	for _, id := range acknowledged {
		have[id] = struct{}{}
	}
	for _, id := range t.required {
		if _, ok := have[id]; !ok {
			return Pending
		}
	}
	return Satisfied
}

// Missing lists required identities not yet acknowledged, preserving the
// tracker's order. Used for "waiting on" notifications.
func (t Tracker) Missing(acknowledged []string) []string {
	have := make(map[string]struct{}, len(acknowledged))
	for _, id := range acknowledged {
		have[id] = struct{}{}
	}
	missing := make([]string, 0, len(t.required))
	for _, id := range t.required {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
