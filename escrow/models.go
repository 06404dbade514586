package escrow

import "time"

// Escrow mirrors the escrows table columns touched by the controller. Buyer
// and seller identities are opaque strings supplied by the transport; the
// engine never resolves them.
type Escrow struct {
	ID               string
	Code             string
	ChatRef          string
	BuyerID          string
	SellerID         string
	DealTitle        string
	Description      string
	Amount           float64
	FeeAmount        float64
	DeliveryDeadline time.Time
	RefundTerms      string
	DisputeAgreed    bool
	State            State
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Party reports whether id is the buyer or the seller of this escrow.
func (e Escrow) Party(id string) bool {
	return id != "" && (id == e.BuyerID || id == e.SellerID)
}

// LogEntry captures one immutable audit record for an escrow. Entries are
// append-only; the reconciler counts distinct actors over them.
type LogEntry struct {
	ID        int64
	EscrowID  string
	ChatRef   string
	ActorID   string
	Action    string
	Payload   []byte
	CreatedAt time.Time
}

// Log action names persisted to escrow_logs.
const (
	LogFormSubmitted = "form_submitted"
	LogPreviewSent   = "agreement_preview_sent"
	LogAgreed        = "agreed"
	LogDisagreed     = "disagreed"
	LogStateChange   = "state_change"
	LogReleaseDecline = "release_declined"
	LogDisputeResolved = "dispute_resolved"
)
