package escrow

// Outbox topics emitted by the controller. Rows are written in the same
// transaction as the state they describe and delivered only after commit.
const (
	TopicEscrowCreated = "escrow.created"
	TopicStateChanged  = "escrow.state_changed"
	TopicJointPending  = "escrow.joint_pending"
)

func createdPayload(e Escrow) map[string]any {
	return map[string]any{
		"escrow_code": e.Code,
		"chat_ref":    e.ChatRef,
		"buyer_id":    e.BuyerID,
		"seller_id":   e.SellerID,
		"title":       e.DealTitle,
		"amount":      e.Amount,
		"fee_amount":  e.FeeAmount,
	}
}

func stateChangedPayload(e Escrow, from, to State) map[string]any {
	return map[string]any{
		"escrow_code": e.Code,
		"chat_ref":    e.ChatRef,
		"from":        string(from),
		"to":          string(to),
		"amount":      e.Amount,
	}
}

func jointPendingPayload(e Escrow, waitingOn []string) map[string]any {
	return map[string]any{
		"escrow_code": e.Code,
		"chat_ref":    e.ChatRef,
		"waiting_on":  waitingOn,
	}
}
