// Package notify maps committed domain events to user-visible messages.
//
// The chat transport itself is external; this package renders text and hands
// it to a Sink. Payment instructions are rendered as a UPI deep link; QR
// image encoding happens on the other side of the Sink boundary.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"escrowflow/escrow"
	"escrowflow/outbox"
)

// Sink is the transport boundary for outbound messages.
type Sink interface {
	Send(ctx context.Context, chatRef, text string) error
}

// Notifier consumes outbox messages and renders them.
type Notifier struct {
	sink  Sink
	log   *slog.Logger
	brand string
	upiID string
	payee string
}

func New(sink Sink, brand, upiID string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		sink:  sink,
		log:   log,
		brand: brand,
		upiID: upiID,
		payee: brand + " Escrow",
	}
}

// Deliver implements outbox.Sink.
func (n *Notifier) Deliver(ctx context.Context, msg outbox.Message) error {
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("notify: decode payload: %w", err)
	}

	chatRef, _ := payload["chat_ref"].(string)
	if chatRef == "" {
		n.log.Warn("outbox message without chat ref", "topic", msg.Topic, "id", msg.ID)
		return nil
	}

	text := n.render(msg.Topic, payload)
	if text == "" {
		return nil
	}
	if err := n.sink.Send(ctx, chatRef, text); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

func (n *Notifier) render(topic string, payload map[string]any) string {
	code, _ := payload["escrow_code"].(string)
	switch topic {
	case escrow.TopicEscrowCreated:
		title, _ := payload["title"].(string)
		amount, _ := payload["amount"].(float64)
		fee, _ := payload["fee_amount"].(float64)
		return fmt.Sprintf("%s ESCROW %s created\nDeal: %s\nAmount: %s\nFee: %s\nBoth parties must agree to proceed.",
			n.brand, code, title, escrow.FormatMoney(amount), escrow.FormatMoney(fee))
	case escrow.TopicJointPending:
		waiting := stringList(payload["waiting_on"])
		return fmt.Sprintf("Escrow %s: agreement recorded. Waiting for: %s.", code, strings.Join(waiting, ", "))
	case escrow.TopicStateChanged:
		return n.renderStateChange(code, payload)
	default:
		n.log.Warn("unknown outbox topic", "topic", topic)
		return ""
	}
}

func (n *Notifier) renderStateChange(code string, payload map[string]any) string {
	to, _ := payload["to"].(string)
	switch escrow.State(to) {
	case escrow.StateAgreed:
		amount, _ := payload["amount"].(float64)
		return fmt.Sprintf("Both parties agreed. Escrow %s is now AGREED.\n\n%s", code, n.PaymentInstructions(code, amount))
	case escrow.StateFunded:
		return fmt.Sprintf("Escrow %s is FUNDED. Funds are held until the buyer confirms delivery.", code)
	case escrow.StateDelivered:
		return fmt.Sprintf("Escrow %s: seller marked the deal as delivered. Buyer, please review.", code)
	case escrow.StateReleaseRequested:
		return fmt.Sprintf("Escrow %s: release requested. Buyer, confirm to release the funds.", code)
	case escrow.StateCompleted:
		return fmt.Sprintf("Escrow %s is COMPLETED. Funds released to the seller.", code)
	case escrow.StateDisputed:
		return fmt.Sprintf("Escrow %s is DISPUTED. An operator will review it.", code)
	case escrow.StateCancelled:
		return fmt.Sprintf("Escrow %s has been cancelled.", code)
	default:
		from, _ := payload["from"].(string)
		return fmt.Sprintf("Escrow %s moved from %s to %s.", code, from, to)
	}
}

// PaymentInstructions renders the funding message sent when a deal reaches
// AGREED.
func (n *Notifier) PaymentInstructions(code string, amount float64) string {
	return fmt.Sprintf("PAYMENT DETAILS (%s)\nUPI ID: %s\nAmount: %s\nEscrow ID: %s\nPay link: %s\nSend the exact amount only and include the escrow ID in the remark.",
		n.brand, n.upiID, escrow.FormatMoney(amount), code, PaymentURI(n.upiID, n.payee, amount, code))
}

// DenialMessage renders the user-facing text for a refused action. Denials
// are feedback only and never persisted.
func DenialMessage(reason string) string {
	switch reason {
	case "invalid_token":
		return "Action denied: this action is no longer available."
	case "already_used":
		return "Action denied: already used."
	case "wrong_user":
		return "Action denied: this button is not yours."
	case "expired":
		return "Action denied: this action has expired."
	default:
		return "Action denied: " + reason
	}
}

// PaymentURI builds the standard UPI deep link for a funding request.
func PaymentURI(upiID, payee string, amount float64, note string) string {
	q := url.Values{}
	q.Set("pa", upiID)
	q.Set("pn", payee)
	q.Set("am", fmt.Sprintf("%.2f", amount))
	q.Set("tn", note)
	return "upi://pay?" + q.Encode()
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
