package escrow

import (
	"context"
	"fmt"

	"escrowflow/token"
)

// AgreementTokens are the per-party capabilities minted when the agreement
// preview opens. The disagree choice gets its own token for each party, so
// either side can cancel with a token bound to their own identity.
type AgreementTokens struct {
	BuyerAgree     token.Token
	SellerAgree    token.Token
	BuyerDisagree  token.Token
	SellerDisagree token.Token
}

// Submission is the committed result of a form intake: the new escrow in
// AGREEMENT_PREVIEW plus the tokens the transport embeds in its keyboard.
type Submission struct {
	Escrow Escrow
	Tokens AgreementTokens
}

// SubmitForm creates an escrow from a parsed form and opens the agreement
// preview, all in one atomic unit: insert in FORM_SUBMITTED, log the intake,
// advance to AGREEMENT_PREVIEW, mint the four action tokens, enqueue the
// creation and transition events.
func (c *Controller) SubmitForm(ctx context.Context, chatRef, creatorID string, form Form) (Submission, error) {
	fee := Fee(form.Amount, c.feePercent)

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("escrow: begin intake unit: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := c.store.Insert(ctx, tx, CreateParams{
		ChatRef:          chatRef,
		BuyerID:          form.Buyer,
		SellerID:         form.Seller,
		DealTitle:        form.Title,
		Description:      form.Description,
		Amount:           form.Amount,
		FeeAmount:        fee,
		DeliveryDeadline: c.now().UTC().Add(form.Delivery),
		RefundTerms:      form.RefundTerms,
		DisputeAgreed:    form.DisputeAgreed,
	})
	if err != nil {
		return Submission{}, err
	}

	if err := c.store.AppendLog(ctx, tx, esc.ID, chatRef, creatorID, LogFormSubmitted, map[string]any{
		"buyer_id":  form.Buyer,
		"seller_id": form.Seller,
		"title":     form.Title,
		"amount":    form.Amount,
		"fee":       fee,
	}); err != nil {
		return Submission{}, err
	}

	if err := c.store.EnqueueOutbox(ctx, tx, TopicEscrowCreated, createdPayload(esc)); err != nil {
		return Submission{}, err
	}

	if err := c.transition(ctx, tx, &esc, chatRef, creatorID, StateAgreementPreview, LogPreviewSent, nil); err != nil {
		return Submission{}, err
	}

	var toks AgreementTokens
	if toks.BuyerAgree, err = c.tokens.Issue(ctx, tx, esc.ID, ActionAgreeBuyer, esc.BuyerID); err != nil {
		return Submission{}, err
	}
	if toks.SellerAgree, err = c.tokens.Issue(ctx, tx, esc.ID, ActionAgreeSeller, esc.SellerID); err != nil {
		return Submission{}, err
	}
	if toks.BuyerDisagree, err = c.tokens.Issue(ctx, tx, esc.ID, ActionDisagree, esc.BuyerID); err != nil {
		return Submission{}, err
	}
	if toks.SellerDisagree, err = c.tokens.Issue(ctx, tx, esc.ID, ActionDisagree, esc.SellerID); err != nil {
		return Submission{}, err
	}

	if err := c.store.EnqueueOutbox(ctx, tx, TopicJointPending,
		jointPendingPayload(esc, []string{esc.BuyerID, esc.SellerID})); err != nil {
		return Submission{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Submission{}, fmt.Errorf("escrow: commit intake unit: %w", err)
	}

	c.log.Info("escrow created",
		"escrow_code", esc.Code,
		"amount", esc.Amount,
		"fee", esc.FeeAmount)
	return Submission{Escrow: esc, Tokens: toks}, nil
}

// IssueStepToken mints the follow-up token an escrow needs after a
// transition, e.g. the buyer's paid_notify token once the deal is AGREED.
// Superseded live tokens for the same role are intentionally left valid.
func (c *Controller) IssueStepToken(ctx context.Context, escrowCode, action, partyID string) (token.Token, error) {
	if _, ok := actionSpecs[action]; !ok {
		return token.Token{}, ErrUnknownAction
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return token.Token{}, fmt.Errorf("escrow: begin issue unit: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := c.store.GetByCodeForUpdate(ctx, tx, escrowCode)
	if err != nil {
		return token.Token{}, err
	}
	if !esc.Party(partyID) {
		return token.Token{}, &UnauthorizedError{Required: "buyer or seller"}
	}

	tok, err := c.tokens.Issue(ctx, tx, esc.ID, action, partyID)
	if err != nil {
		return token.Token{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return token.Token{}, fmt.Errorf("escrow: commit issue unit: %w", err)
	}
	return tok, nil
}
