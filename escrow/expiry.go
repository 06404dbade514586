package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// sweepBatch caps how many overdue escrows one sweep unit touches.
const sweepBatch = 50

// ExpireOverdue cancels escrows whose delivery deadline passed before funds
// moved. Pre-FUNDED deals go to CANCELLED; the EXPIRED terminal state is
// reserved for funded-deal timeout policy (see DESIGN.md). Returns the number
// of escrows swept.
func (c *Controller) ExpireOverdue(ctx context.Context) (int, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("escrow: begin sweep unit: %w", err)
	}
	defer tx.Rollback(ctx)

	overdue, err := c.store.OverdueForUpdate(ctx, tx, c.now().UTC(), sweepBatch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range overdue {
		esc := overdue[i]
		if !CanTransition(esc.State, StateCancelled) {
			continue
		}
		if err := c.transition(ctx, tx, &esc, esc.ChatRef, "system", StateCancelled, LogStateChange,
			map[string]any{"reason": "delivery_deadline_passed"}); err != nil {
			return 0, err
		}
		swept++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("escrow: commit sweep unit: %w", err)
	}

	if swept > 0 {
		c.log.Info("overdue escrows cancelled", "count", swept)
	}
	return swept, nil
}

// Sweeper periodically runs the overdue sweep.
type Sweeper struct {
	ctrl     *Controller
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(ctrl *Controller, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{ctrl: ctrl, interval: interval, log: log}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ctrl.ExpireOverdue(ctx); err != nil {
				s.log.Error("overdue sweep failed", "error", err)
			}
		}
	}
}
