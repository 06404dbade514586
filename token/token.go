// Package token issues and consumes single-use action tokens.
//
// A token is a capability scoped to one (escrow, action, party) triple with a
// validity window. Consumption is serialized per token via SELECT ... FOR
// UPDATE and the used flag is flipped inside the caller's transaction, so the
// mark-used write commits or aborts together with the action it authorizes.
//
// Issuing a fresh token for a role does not revoke earlier live tokens for
// the same role; each token stands on its own validity window and single-use
// is enforced per token. See DESIGN.md for the rationale.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DenialReason enumerates the terminal, user-facing reasons a token is
// refused. A denied token can never be retried; callers start a fresh flow.
type DenialReason string

const (
	DenialInvalidToken DenialReason = "invalid_token"
	DenialAlreadyUsed  DenialReason = "already_used"
	DenialWrongUser    DenialReason = "wrong_user"
	DenialExpired      DenialReason = "expired"
)

// DenialError reports why a consume attempt was refused.
type DenialError struct {
	Reason DenialReason
}

func (e *DenialError) Error() string {
	return "token: denied (" + string(e.Reason) + ")"
}

// Denied unwraps err into a denial reason if it is one.
func Denied(err error) (DenialReason, bool) {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}

// Token is a persisted action token row.
type Token struct {
	ID        string
	EscrowID  string
	Action    string
	PartyID   string
	ExpiresAt time.Time
	Used      bool
}

// Service mints and consumes tokens within caller-owned transactions.
type Service struct {
	ttl time.Duration
	now func() time.Time
}

func NewService(ttl time.Duration) *Service {
	return &Service{ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue persists a new token bound to exactly the given triple, expiring at
// now + ttl. The identifier is a v4 UUID generated client-side so the caller
// can hand it to the transport in the same transaction.
func (s *Service) Issue(ctx context.Context, tx pgx.Tx, escrowID, action, partyID string) (Token, error) {
	if escrowID == "" || action == "" || partyID == "" {
		return Token{}, fmt.Errorf("token: issue requires escrow, action and party")
	}

	tok := Token{
		ID:        uuid.NewString(),
		EscrowID:  escrowID,
		Action:    action,
		PartyID:   partyID,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}

	const insertSQL = `
INSERT INTO action_tokens (token, escrow_id, action, party_id, expires_at)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := tx.Exec(ctx, insertSQL, tok.ID, tok.EscrowID, tok.Action, tok.PartyID, tok.ExpiresAt); err != nil {
		return Token{}, fmt.Errorf("token: insert: %w", err)
	}
	return tok, nil
}

// Consume atomically validates and marks the token used. The row lock taken
// here serializes concurrent consumption attempts for the same token: exactly
// one transaction observes used=false. Check order is fixed: existence,
// used, bound party, expiry.
func (s *Service) Consume(ctx context.Context, tx pgx.Tx, tokenID, escrowID, action, partyID string) error {
	if _, err := uuid.Parse(tokenID); err != nil {
		return &DenialError{Reason: DenialInvalidToken}
	}

	const lockSQL = `
SELECT party_id, expires_at, used
FROM action_tokens
WHERE token = $1 AND escrow_id = $2 AND action = $3
FOR UPDATE
`
	var (
		boundParty string
		expiresAt  time.Time
		used       bool
	)
	if err := tx.QueryRow(ctx, lockSQL, tokenID, escrowID, action).Scan(&boundParty, &expiresAt, &used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &DenialError{Reason: DenialInvalidToken}
		}
		return fmt.Errorf("token: lock: %w", err)
	}

	if denial := check(used, boundParty, expiresAt, partyID, s.now().UTC()); denial != nil {
		return denial
	}

	if _, err := tx.Exec(ctx, `UPDATE action_tokens SET used = true WHERE token = $1`, tokenID); err != nil {
		return fmt.Errorf("token: mark used: %w", err)
	}
	return nil
}

// check applies the denial ordering on an already-locked token row.
func check(used bool, boundParty string, expiresAt time.Time, partyID string, now time.Time) *DenialError {
	if used {
		return &DenialError{Reason: DenialAlreadyUsed}
	}
	if boundParty != partyID {
		return &DenialError{Reason: DenialWrongUser}
	}
	if !expiresAt.After(now) {
		return &DenialError{Reason: DenialExpired}
	}
	return nil
}
