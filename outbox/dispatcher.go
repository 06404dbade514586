// Package outbox delivers domain events written transactionally by the
// lifecycle controller. Rows are claimed with FOR UPDATE SKIP LOCKED in a
// short transaction, then delivered after that transaction commits, so a slow
// or failing sink never holds a database lock.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Message is one claimed outbox row.
type Message struct {
	ID        int64
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Sink receives committed domain events.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

const (
	defaultInterval = time.Second
	defaultBatch    = 32
	maxAttempts     = 5
)

// Dispatcher polls the outbox and pushes pending rows to the sink.
type Dispatcher struct {
	pool     *pgxpool.Pool
	sink     Sink
	log      *slog.Logger
	interval time.Duration
	batch    int
}

func NewDispatcher(pool *pgxpool.Pool, sink Sink, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		pool:     pool,
		sink:     sink,
		log:      log,
		interval: defaultInterval,
		batch:    defaultBatch,
	}
}

// WithInterval overrides the poll interval, for tests.
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("outbox tick failed", "error", err)
			}
		}
	}
}

// Tick claims one batch, delivers it, and records the results. Returns the
// number of messages delivered.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	msgs, err := d.claim(ctx)
	if err != nil || len(msgs) == 0 {
		return 0, err
	}

	delivered := make([]bool, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range msgs {
		g.Go(func() error {
			if err := d.sink.Deliver(gctx, msgs[i]); err != nil {
				d.log.Warn("outbox delivery failed",
					"id", msgs[i].ID,
					"topic", msgs[i].Topic,
					"attempts", msgs[i].Attempts,
					"error", err)
				return nil
			}
			delivered[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	sent := 0
	for i, msg := range msgs {
		if delivered[i] {
			sent++
			if err := d.markSent(ctx, msg.ID); err != nil {
				return sent, err
			}
			continue
		}
		if err := d.release(ctx, msg); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// claim moves a batch of pending rows to inflight and returns them. The
// claiming transaction commits before any delivery happens.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
UPDATE outbox
SET status = 'inflight', attempts = attempts + 1
WHERE id IN (
    SELECT id FROM outbox
    WHERE status = 'pending'
    ORDER BY id
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, topic, payload, attempts, created_at
`
	rows, err := tx.Query(ctx, claimSQL, d.batch)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}

	msgs := make([]Message, 0, d.batch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox: scan claim: %w", err)
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox: commit claim: %w", err)
	}
	return msgs, nil
}

func (d *Dispatcher) markSent(ctx context.Context, id int64) error {
	if _, err := d.pool.Exec(ctx,
		`UPDATE outbox SET status = 'sent', sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	return nil
}

// release returns a failed message to pending, or parks it as failed once it
// runs out of attempts.
func (d *Dispatcher) release(ctx context.Context, msg Message) error {
	status := "pending"
	if msg.Attempts >= maxAttempts {
		status = "failed"
		d.log.Error("outbox message abandoned", "id", msg.ID, "topic", msg.Topic)
	}
	if _, err := d.pool.Exec(ctx,
		`UPDATE outbox SET status = $1 WHERE id = $2`, status, msg.ID); err != nil {
		return fmt.Errorf("outbox: release: %w", err)
	}
	return nil
}
