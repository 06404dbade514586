package quorum

import (
	"reflect"
	"testing"
)

func TestEvaluate_DualAgree(t *testing.T) {
	tr := NewTracker("buyer-1", "seller-1")

	if got := tr.Evaluate(nil); got != Pending {
		t.Errorf("no acknowledgements: expected pending, got %s", got)
	}
	if got := tr.Evaluate([]string{"buyer-1"}); got != Pending {
		t.Errorf("one party: expected pending, got %s", got)
	}
	if got := tr.Evaluate([]string{"buyer-1", "seller-1"}); got != Satisfied {
		t.Errorf("both parties: expected satisfied, got %s", got)
	}
}

func TestEvaluate_DuplicatesFromOnePartyStayPending(t *testing.T) {
	tr := NewTracker("buyer-1", "seller-1")
	if got := tr.Evaluate([]string{"buyer-1", "buyer-1", "buyer-1"}); got != Pending {
		t.Errorf("duplicate buyer acknowledgements must not satisfy, got %s", got)
	}
}

func TestEvaluate_OutsidersNeverContribute(t *testing.T) {
	tr := NewTracker("buyer-1", "seller-1")
	if got := tr.Evaluate([]string{"buyer-1", "stranger"}); got != Pending {
		t.Errorf("outsider must not stand in for seller, got %s", got)
	}
}

func TestEvaluate_EmptyRequiredIsSatisfied(t *testing.T) {
	if got := NewTracker().Evaluate(nil); got != Satisfied {
		t.Errorf("empty required set: expected satisfied, got %s", got)
	}
}

func TestNewTracker_CollapsesDuplicates(t *testing.T) {
	tr := NewTracker("a", "a", "", "b")
	if got := tr.Evaluate([]string{"a", "b"}); got != Satisfied {
		t.Errorf("expected satisfied after collapsing duplicates, got %s", got)
	}
}

func TestMissing(t *testing.T) {
	tr := NewTracker("buyer-1", "seller-1")
	if got := tr.Missing([]string{"buyer-1"}); !reflect.DeepEqual(got, []string{"seller-1"}) {
		t.Errorf("expected [seller-1], got %v", got)
	}
	if got := tr.Missing([]string{"buyer-1", "seller-1"}); len(got) != 0 {
		t.Errorf("expected no missing parties, got %v", got)
	}
}
