package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/quorum"
	"escrowflow/token"
)

// DefaultFeePercent applies when the controller is not configured otherwise.
const DefaultFeePercent = 6.0

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the tx-scoped data access the controller needs. *Repository
// implements it.
type Store interface {
	GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (Escrow, error)
	Insert(ctx context.Context, tx pgx.Tx, p CreateParams) (Escrow, error)
	UpdateState(ctx context.Context, tx pgx.Tx, escrowID string, to State) error
	AppendLog(ctx context.Context, tx pgx.Tx, escrowID, chatRef, actorID, action string, payload map[string]any) error
	DistinctActors(ctx context.Context, tx pgx.Tx, escrowID, action string) ([]string, error)
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
	OverdueForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Escrow, error)
}

// TokenService is the slice of the token service the controller consumes.
type TokenService interface {
	Issue(ctx context.Context, tx pgx.Tx, escrowID, action, partyID string) (token.Token, error)
	Consume(ctx context.Context, tx pgx.Tx, tokenID, escrowID, action, partyID string) error
}

// Controller is the single component permitted to read-modify-write escrow
// state. Every inbound action runs as one atomic unit: lock the escrow row,
// consume the token, check the role, apply the transition or joint
// contribution, append logs and outbox rows, commit.
type Controller struct {
	pool       TxBeginner
	store      Store
	tokens     TokenService
	log        *slog.Logger
	feePercent float64
	now        func() time.Time
}

func NewController(pool TxBeginner, store Store, tokens TokenService) *Controller {
	if store == nil {
		store = NewRepository()
	}
	return &Controller{
		pool:       pool,
		store:      store,
		tokens:     tokens,
		log:        slog.Default(),
		feePercent: DefaultFeePercent,
		now:        time.Now,
	}
}

func (c *Controller) WithLogger(l *slog.Logger) *Controller {
	c.log = l
	return c
}

func (c *Controller) WithFeePercent(percent float64) *Controller {
	c.feePercent = percent
	return c
}

// WithClock overrides the time source, for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// ActionRequest is the normalized inbound request from the transport.
type ActionRequest struct {
	Action     string
	EscrowCode string
	Token      string
	PartyID    string
	ChatRef    string
}

// Outcome summarizes what an accepted action did.
type Outcome string

const (
	// OutcomeStateChanged: a transition committed.
	OutcomeStateChanged Outcome = "state_changed"
	// OutcomePending: a joint contribution was recorded but the condition is
	// not yet satisfied.
	OutcomePending Outcome = "pending"
	// OutcomeLogged: the action only appended to the log.
	OutcomeLogged Outcome = "logged"
)

// ActionResult reports the committed effect of an action.
type ActionResult struct {
	Escrow    Escrow
	Outcome   Outcome
	From      State
	To        State
	WaitingOn []string
}

// HandleAction drives one action request through the lifecycle. Denials
// (token, role, transition) abort the unit with no writes; nothing is
// observable until the unit commits.
func (c *Controller) HandleAction(ctx context.Context, req ActionRequest) (ActionResult, error) {
	spec, ok := actionSpecs[req.Action]
	if !ok {
		return ActionResult{}, ErrUnknownAction
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return ActionResult{}, fmt.Errorf("escrow: begin action unit: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := c.store.GetByCodeForUpdate(ctx, tx, req.EscrowCode)
	if err != nil {
		return ActionResult{}, err
	}

	if err := c.tokens.Consume(ctx, tx, req.Token, esc.ID, req.Action, req.PartyID); err != nil {
		return ActionResult{}, err
	}

	if err := spec.authorized(esc, req.PartyID); err != nil {
		return ActionResult{}, err
	}

	var res ActionResult
	if spec.joint {
		res, err = c.contributeAgreement(ctx, tx, esc, req, spec)
	} else {
		res, err = c.applyPlain(ctx, tx, esc, req, spec)
	}
	if err != nil {
		return ActionResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ActionResult{}, fmt.Errorf("escrow: commit action unit: %w", err)
	}

	c.log.Info("escrow action committed",
		"escrow_code", esc.Code,
		"action", req.Action,
		"outcome", string(res.Outcome),
		"state", string(res.Escrow.State))
	return res, nil
}

// applyPlain handles actions that map to a single transition (or to a
// log-only acknowledgement when the action has no target state).
func (c *Controller) applyPlain(ctx context.Context, tx pgx.Tx, esc Escrow, req ActionRequest, spec actionSpec) (ActionResult, error) {
	if spec.target == "" {
		payload := map[string]any{"action": req.Action}
		if err := c.store.AppendLog(ctx, tx, esc.ID, req.ChatRef, req.PartyID, spec.log, payload); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Escrow: esc, Outcome: OutcomeLogged, From: esc.State, To: esc.State}, nil
	}

	from := esc.State
	if !CanTransition(from, spec.target) {
		return ActionResult{}, &InvalidTransitionError{From: from, To: spec.target}
	}

	if err := c.transition(ctx, tx, &esc, req.ChatRef, req.PartyID, spec.target, spec.log, map[string]any{"action": req.Action}); err != nil {
		return ActionResult{}, err
	}

	// RELEASE_CONFIRMED exists only as a hand-off into COMPLETED; advance in
	// the same unit so both edges commit together.
	if esc.State == StateReleaseConfirmed {
		if err := c.transition(ctx, tx, &esc, req.ChatRef, req.PartyID, StateCompleted, LogStateChange, nil); err != nil {
			return ActionResult{}, err
		}
	}

	return ActionResult{Escrow: esc, Outcome: OutcomeStateChanged, From: from, To: esc.State}, nil
}

// contributeAgreement records one party's agreement and fires the AGREED
// transition once the distinct-actor set in the log covers both parties.
func (c *Controller) contributeAgreement(ctx context.Context, tx pgx.Tx, esc Escrow, req ActionRequest, spec actionSpec) (ActionResult, error) {
	from := esc.State
	if !CanTransition(from, spec.target) {
		return ActionResult{}, &InvalidTransitionError{From: from, To: spec.target}
	}

	if err := c.store.AppendLog(ctx, tx, esc.ID, req.ChatRef, req.PartyID, spec.log, map[string]any{"action": req.Action}); err != nil {
		return ActionResult{}, err
	}

	actors, err := c.store.DistinctActors(ctx, tx, esc.ID, spec.log)
	if err != nil {
		return ActionResult{}, err
	}

	tracker := quorum.NewTracker(esc.BuyerID, esc.SellerID)
	if tracker.Evaluate(actors) != quorum.Satisfied {
		waiting := tracker.Missing(actors)
		if err := c.store.EnqueueOutbox(ctx, tx, TopicJointPending, jointPendingPayload(esc, waiting)); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Escrow: esc, Outcome: OutcomePending, From: from, To: from, WaitingOn: waiting}, nil
	}

	if err := c.transition(ctx, tx, &esc, req.ChatRef, req.PartyID, spec.target, LogStateChange, nil); err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Escrow: esc, Outcome: OutcomeStateChanged, From: from, To: esc.State}, nil
}

// transition applies one already-validated edge: state write, log entry,
// outbox row. The escrow struct is advanced in place.
func (c *Controller) transition(ctx context.Context, tx pgx.Tx, esc *Escrow, chatRef, actorID string, to State, logAction string, extra map[string]any) error {
	from := esc.State
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	if err := c.store.UpdateState(ctx, tx, esc.ID, to); err != nil {
		return err
	}

	payload := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range extra {
		payload[k] = v
	}
	if err := c.store.AppendLog(ctx, tx, esc.ID, chatRef, actorID, logAction, payload); err != nil {
		return err
	}

	if err := c.store.EnqueueOutbox(ctx, tx, TopicStateChanged, stateChangedPayload(*esc, from, to)); err != nil {
		return err
	}

	esc.State = to
	return nil
}

// Resolution is an admin decision on a disputed escrow.
type Resolution string

const (
	ResolutionRelease Resolution = "release"
	ResolutionCancel  Resolution = "cancel"
)

// ResolveDispute applies an operator decision to a DISPUTED escrow. It is
// operator-authenticated rather than token-gated; the adjudication itself
// (who is right) happens outside this system.
func (c *Controller) ResolveDispute(ctx context.Context, code string, resolution Resolution, adminID string) (ActionResult, error) {
	var target State
	switch resolution {
	case ResolutionRelease:
		target = StateReleaseConfirmed
	case ResolutionCancel:
		target = StateCancelled
	default:
		return ActionResult{}, fmt.Errorf("escrow: unknown resolution %q", resolution)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return ActionResult{}, fmt.Errorf("escrow: begin resolve unit: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := c.store.GetByCodeForUpdate(ctx, tx, code)
	if err != nil {
		return ActionResult{}, err
	}

	from := esc.State
	if err := c.transition(ctx, tx, &esc, esc.ChatRef, adminID, target, LogDisputeResolved,
		map[string]any{"resolution": string(resolution)}); err != nil {
		return ActionResult{}, err
	}
	if esc.State == StateReleaseConfirmed {
		if err := c.transition(ctx, tx, &esc, esc.ChatRef, adminID, StateCompleted, LogStateChange, nil); err != nil {
			return ActionResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ActionResult{}, fmt.Errorf("escrow: commit resolve unit: %w", err)
	}

	c.log.Info("dispute resolved",
		"escrow_code", esc.Code,
		"resolution", string(resolution),
		"state", string(esc.State))
	return ActionResult{Escrow: esc, Outcome: OutcomeStateChanged, From: from, To: esc.State}, nil
}
