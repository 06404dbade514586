package token

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheck_Ordering(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	cases := []struct {
		name       string
		used       bool
		boundParty string
		expiresAt  time.Time
		party      string
		want       DenialReason
	}{
		{"used wins over wrong user", true, "buyer", future, "seller", DenialAlreadyUsed},
		{"used wins over expired", true, "buyer", past, "buyer", DenialAlreadyUsed},
		{"wrong user wins over expired", false, "buyer", past, "seller", DenialWrongUser},
		{"expired", false, "buyer", past, "buyer", DenialExpired},
		{"expiry boundary is exclusive", false, "buyer", now, "buyer", DenialExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			denial := check(tc.used, tc.boundParty, tc.expiresAt, tc.party, now)
			if denial == nil {
				t.Fatal("expected a denial")
			}
			if denial.Reason != tc.want {
				t.Errorf("expected %s, got %s", tc.want, denial.Reason)
			}
		})
	}
}

func TestCheck_Valid(t *testing.T) {
	now := time.Now().UTC()
	if denial := check(false, "buyer", now.Add(time.Minute), "buyer", now); denial != nil {
		t.Fatalf("expected no denial, got %v", denial)
	}
}

func TestConsume_MalformedTokenIsDenial(t *testing.T) {
	svc := NewService(time.Minute)
	err := svc.Consume(context.Background(), nil, "not-a-uuid", "escrow-1", "agree_buyer", "buyer")
	reason, ok := Denied(err)
	if !ok || reason != DenialInvalidToken {
		t.Fatalf("expected invalid_token denial, got %v", err)
	}
}

func TestDenied(t *testing.T) {
	if _, ok := Denied(errors.New("token: lock: boom")); ok {
		t.Error("plain errors must not report as denials")
	}
	reason, ok := Denied(&DenialError{Reason: DenialExpired})
	if !ok || reason != DenialExpired {
		t.Errorf("expected expired denial, got %v %v", reason, ok)
	}

	var d *DenialError
	wrapped := error(&DenialError{Reason: DenialWrongUser})
	if !errors.As(wrapped, &d) || d.Reason != DenialWrongUser {
		t.Error("DenialError must survive errors.As")
	}
}
