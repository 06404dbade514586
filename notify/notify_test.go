package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"escrowflow/outbox"
)

type memorySink struct {
	sent []sentMessage
	err  error
}

type sentMessage struct {
	chatRef string
	text    string
}

func (s *memorySink) Send(_ context.Context, chatRef, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{chatRef: chatRef, text: text})
	return nil
}

func message(t *testing.T, topic string, payload map[string]any) outbox.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return outbox.Message{ID: 1, Topic: topic, Payload: raw}
}

func TestDeliverCreated(t *testing.T) {
	sink := &memorySink{}
	n := New(sink, "DealGuard", "deals@upi", nil)

	msg := message(t, "escrow.created", map[string]any{
		"escrow_code": "ESC-000042",
		"chat_ref":    "chat-9",
		"title":       "Logo design",
		"amount":      10000.0,
		"fee_amount":  600.0,
	})
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sink.sent))
	}
	got := sink.sent[0]
	if got.chatRef != "chat-9" {
		t.Errorf("chat ref = %q, want chat-9", got.chatRef)
	}
	for _, want := range []string{"ESC-000042", "Logo design", "₹10000.00", "₹600.00"} {
		if !strings.Contains(got.text, want) {
			t.Errorf("created message missing %q:\n%s", want, got.text)
		}
	}
}

func TestDeliverAgreedIncludesPaymentLink(t *testing.T) {
	sink := &memorySink{}
	n := New(sink, "DealGuard", "deals@upi", nil)

	msg := message(t, "escrow.state_changed", map[string]any{
		"escrow_code": "ESC-000042",
		"chat_ref":    "chat-9",
		"from":        "AGREEMENT_PREVIEW",
		"to":          "AGREED",
		"amount":      2500.5,
	})
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	text := sink.sent[0].text
	if !strings.Contains(text, "upi://pay?") {
		t.Fatalf("agreed message missing payment link:\n%s", text)
	}
	if !strings.Contains(text, "am=2500.50") {
		t.Errorf("payment link missing amount:\n%s", text)
	}
}

func TestDeliverJointPending(t *testing.T) {
	sink := &memorySink{}
	n := New(sink, "DealGuard", "deals@upi", nil)

	msg := message(t, "escrow.joint_pending", map[string]any{
		"escrow_code": "ESC-000007",
		"chat_ref":    "chat-1",
		"waiting_on":  []string{"seller-2"},
	})
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.Contains(sink.sent[0].text, "Waiting for: seller-2") {
		t.Errorf("joint pending message = %q", sink.sent[0].text)
	}
}

func TestDeliverWithoutChatRefIsDropped(t *testing.T) {
	sink := &memorySink{}
	n := New(sink, "DealGuard", "deals@upi", nil)

	msg := message(t, "escrow.created", map[string]any{"escrow_code": "ESC-000001"})
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("sent %d messages, want 0", len(sink.sent))
	}
}

func TestDeliverSinkFailurePropagates(t *testing.T) {
	sink := &memorySink{err: errors.New("transport down")}
	n := New(sink, "DealGuard", "deals@upi", nil)

	msg := message(t, "escrow.state_changed", map[string]any{
		"escrow_code": "ESC-000042",
		"chat_ref":    "chat-9",
		"from":        "AGREED",
		"to":          "FUNDED",
	})
	if err := n.Deliver(context.Background(), msg); err == nil {
		t.Fatal("Deliver succeeded, want error")
	}
}

func TestPaymentURI(t *testing.T) {
	uri := PaymentURI("deals@upi", "DealGuard Escrow", 1234.5, "ESC-000042")
	if !strings.HasPrefix(uri, "upi://pay?") {
		t.Fatalf("uri = %q", uri)
	}
	for _, want := range []string{"pa=deals%40upi", "am=1234.50", "tn=ESC-000042"} {
		if !strings.Contains(uri, want) {
			t.Errorf("uri missing %q: %s", want, uri)
		}
	}
}

func TestDenialMessage(t *testing.T) {
	cases := map[string]string{
		"invalid_token": "no longer available",
		"already_used":  "already used",
		"wrong_user":    "not yours",
		"expired":       "expired",
	}
	for reason, want := range cases {
		if got := DenialMessage(reason); !strings.Contains(got, want) {
			t.Errorf("DenialMessage(%q) = %q, want substring %q", reason, got, want)
		}
	}
}
