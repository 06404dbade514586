package escrow

import "errors"

// Action names accepted on the callback surface. The wire format is
// action|escrow_code|token; the gateway splits it and the controller
// dispatches on the action name.
const (
	ActionAgreeBuyer     = "agree_buyer"
	ActionAgreeSeller    = "agree_seller"
	ActionDisagree       = "disagree"
	ActionPaidNotify     = "paid_notify"
	ActionMarkDelivered  = "mark_delivered"
	ActionRequestRelease = "request_release"
	ActionConfirmRelease = "confirm_release"
	ActionCancelRelease  = "cancel_release"
	ActionRaiseDispute   = "raise_dispute"
)

// role restricts who may perform an action.
type role int

const (
	roleBuyer role = iota
	roleSeller
	roleEither
)

func (r role) String() string {
	switch r {
	case roleBuyer:
		return "buyer"
	case roleSeller:
		return "seller"
	default:
		return "buyer or seller"
	}
}

// actionSpec describes how the controller treats one action: who may perform
// it, whether it contributes to the dual-agree joint condition, and which
// state it targets (empty for log-only actions).
type actionSpec struct {
	role   role
	joint  bool
	target State
	log    string
}

var actionSpecs = map[string]actionSpec{
	ActionAgreeBuyer:     {role: roleBuyer, joint: true, target: StateAgreed, log: LogAgreed},
	ActionAgreeSeller:    {role: roleSeller, joint: true, target: StateAgreed, log: LogAgreed},
	ActionDisagree:       {role: roleEither, target: StateCancelled, log: LogDisagreed},
	ActionPaidNotify:     {role: roleBuyer, target: StateFunded, log: LogStateChange},
	ActionMarkDelivered:  {role: roleSeller, target: StateDelivered, log: LogStateChange},
	ActionRequestRelease: {role: roleSeller, target: StateReleaseRequested, log: LogStateChange},
	ActionConfirmRelease: {role: roleBuyer, target: StateReleaseConfirmed, log: LogStateChange},
	ActionCancelRelease:  {role: roleBuyer, log: LogReleaseDecline},
	ActionRaiseDispute:   {role: roleEither, target: StateDisputed, log: LogStateChange},
}

// ErrUnknownAction is returned for action names outside the vocabulary. The
// transport is expected to reject malformed encodings before this point, so
// an unknown name is treated as a normal denial, not a fault.
var ErrUnknownAction = errors.New("escrow: unknown action")

// UnauthorizedError is returned when the requesting party does not hold the
// role an action requires.
type UnauthorizedError struct {
	Required string
}

func (e *UnauthorizedError) Error() string {
	return "escrow: not authorized (" + e.Required + " only)"
}

// authorized checks the requesting party against the escrow's parties for the
// given role requirement.
func (s actionSpec) authorized(e Escrow, partyID string) error {
	switch s.role {
	case roleBuyer:
		if partyID != e.BuyerID {
			return &UnauthorizedError{Required: "buyer"}
		}
	case roleSeller:
		if partyID != e.SellerID {
			return &UnauthorizedError{Required: "seller"}
		}
	default:
		if !e.Party(partyID) {
			return &UnauthorizedError{Required: "buyer or seller"}
		}
	}
	return nil
}
