// Package actors holds the concurrent workloads the stress run throws at the
// escrow lifecycle. Each actor drives the real controller; denial and
// invalid-transition errors are expected under contention and absorbed here,
// anything else is a failure.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
	"escrowflow/outbox"
	"escrowflow/token"
)

// Env bundles what every actor needs to drive and observe the lifecycle.
type Env struct {
	Ctrl *escrow.Controller
	Pool *pgxpool.Pool
	Repo *escrow.Repository
	Reg  *Registry
}

// Registry shares created escrows between actors.
type Registry struct {
	mu    sync.Mutex
	codes []string
}

func (r *Registry) Add(code string) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
}

// Random returns a random known escrow code, or "" when none exist yet.
func (r *Registry) Random() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.codes) == 0 {
		return ""
	}
	return r.codes[rand.Intn(len(r.codes))]
}

func parties(n int) (buyer, seller string) {
	return fmt.Sprintf("@buyer-%d", n), fmt.Sprintf("@seller-%d", n)
}

// expected filters out the errors contention and chaos legitimately produce:
// denials, transition and role refusals, plus connections the chaos actor
// killed under us.
func expected(err error) bool {
	if err == nil {
		return true
	}
	if _, ok := token.Denied(err); ok {
		return true
	}
	var invalid *escrow.InvalidTransitionError
	if errors.As(err, &invalid) {
		return true
	}
	var unauthorized *escrow.UnauthorizedError
	if errors.As(err, &unauthorized) {
		return true
	}
	if errors.Is(err, escrow.ErrNotFound) || errors.Is(err, context.Canceled) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57P01" { // admin_shutdown
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset")
}

// Creator submits deal forms and immediately races both agreement tokens,
// sometimes replaying one to exercise the already_used path.
func Creator(ctx context.Context, env Env, stop <-chan struct{}) error {
	ctrl, reg := env.Ctrl, env.Reg
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		n := rand.Int()
		buyer, seller := parties(n)
		form := escrow.Form{
			Buyer:       buyer,
			Seller:      seller,
			Title:       fmt.Sprintf("Stress deal %d", n),
			Description: "generated",
			Amount:      float64(100 + rand.Intn(10000)),
			Delivery:    24 * time.Hour,
			RefundTerms: "none",
		}
		sub, err := ctrl.SubmitForm(ctx, fmt.Sprintf("chat-%d", n), buyer, form)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("creator submit: %w", err)
		}
		reg.Add(sub.Escrow.Code)

		var wg sync.WaitGroup
		attempts := []escrow.ActionRequest{
			{Action: escrow.ActionAgreeBuyer, EscrowCode: sub.Escrow.Code, Token: sub.Tokens.BuyerAgree.ID, PartyID: buyer},
			{Action: escrow.ActionAgreeSeller, EscrowCode: sub.Escrow.Code, Token: sub.Tokens.SellerAgree.ID, PartyID: seller},
			// duplicate press of the buyer token
			{Action: escrow.ActionAgreeBuyer, EscrowCode: sub.Escrow.Code, Token: sub.Tokens.BuyerAgree.ID, PartyID: buyer},
		}
		errs := make([]error, len(attempts))
		for i, req := range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = ctrl.HandleAction(ctx, req)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			if !expected(err) {
				return fmt.Errorf("creator agree: %w", err)
			}
		}

		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Advancer picks random escrows and pushes them one step forward. Most
// attempts fail with invalid transitions or role checks; that is the point.
func Advancer(ctx context.Context, env Env, stop <-chan struct{}) error {
	ctrl, reg := env.Ctrl, env.Reg
	steps := []struct {
		action string
		buyer  bool
	}{
		{escrow.ActionPaidNotify, true},
		{escrow.ActionMarkDelivered, false},
		{escrow.ActionRequestRelease, false},
		{escrow.ActionConfirmRelease, true},
		{escrow.ActionRaiseDispute, rand.Intn(2) == 0},
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		code := reg.Random()
		if code == "" {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		esc, ok, err := lookup(ctx, env, code)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		step := steps[rand.Intn(len(steps))]
		party := esc.SellerID
		if step.buyer {
			party = esc.BuyerID
		}

		tok, err := ctrl.IssueStepToken(ctx, code, step.action, party)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("advancer issue: %w", err)
		}
		if _, err := ctrl.HandleAction(ctx, escrow.ActionRequest{
			Action: step.action, EscrowCode: code, Token: tok.ID, PartyID: party, ChatRef: esc.ChatRef,
		}); !expected(err) {
			return fmt.Errorf("advancer %s: %w", step.action, err)
		}

		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Replayer hammers one token from several goroutines and checks exactly one
// attempt wins.
func Replayer(ctx context.Context, env Env, stop <-chan struct{}) error {
	ctrl, reg := env.Ctrl, env.Reg
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		code := reg.Random()
		if code == "" {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		esc, ok, err := lookup(ctx, env, code)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		tok, err := ctrl.IssueStepToken(ctx, code, escrow.ActionRaiseDispute, esc.BuyerID)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("replayer issue: %w", err)
		}

		const racers = 4
		var wg sync.WaitGroup
		errs := make([]error, racers)
		for i := range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = ctrl.HandleAction(ctx, escrow.ActionRequest{
					Action: escrow.ActionRaiseDispute, EscrowCode: code,
					Token: tok.ID, PartyID: esc.BuyerID, ChatRef: esc.ChatRef,
				})
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else if !expected(err) {
				return fmt.Errorf("replayer consume: %w", err)
			}
		}
		if wins > 1 {
			return fmt.Errorf("token %s consumed %d times", tok.ID, wins)
		}

		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker drains the outbox through the real dispatcher.
func OutboxWorker(ctx context.Context, d *outbox.Dispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox tick: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// lookup is a tolerant read: races with terminal transitions are fine.
func lookup(ctx context.Context, env Env, code string) (escrow.Escrow, bool, error) {
	esc, err := env.Repo.GetByCode(ctx, env.Pool, code)
	if err != nil {
		if expected(err) {
			return escrow.Escrow{}, false, nil
		}
		return escrow.Escrow{}, false, err
	}
	return esc, true, nil
}
