package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no escrow row exists for the given code.
	ErrNotFound = errors.New("escrow: not found")
)

// Repository holds the tx-scoped row access used by the controller. Methods
// taking a pgx.Tx run inside the caller's transaction so locks acquired here
// are held until that unit commits or aborts.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const escrowColumns = `
id, escrow_code, chat_ref, buyer_id, seller_id, deal_title, description,
amount, fee_amount, delivery_deadline, refund_terms, dispute_agreed,
state, created_at, updated_at`

func scanEscrow(row pgx.Row) (Escrow, error) {
	var e Escrow
	var state string
	err := row.Scan(
		&e.ID, &e.Code, &e.ChatRef, &e.BuyerID, &e.SellerID, &e.DealTitle,
		&e.Description, &e.Amount, &e.FeeAmount, &e.DeliveryDeadline,
		&e.RefundTerms, &e.DisputeAgreed, &state, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return Escrow{}, err
	}
	e.State = State(state)
	return e, nil
}

// GetByCodeForUpdate loads an escrow by its public code and locks the row for
// the rest of the transaction, serializing concurrent actions on one deal.
func (r *Repository) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (Escrow, error) {
	query := `SELECT` + escrowColumns + ` FROM escrows WHERE escrow_code = $1 FOR UPDATE`
	e, err := scanEscrow(tx.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: lock by code: %w", err)
	}
	return e, nil
}

// GetByCode is the unlocked read used by view endpoints.
func (r *Repository) GetByCode(ctx context.Context, pool *pgxpool.Pool, code string) (Escrow, error) {
	query := `SELECT` + escrowColumns + ` FROM escrows WHERE escrow_code = $1`
	e, err := scanEscrow(pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: get by code: %w", err)
	}
	return e, nil
}

// CreateParams enumerates the columns written on form submission.
type CreateParams struct {
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
}

// Insert creates a new escrow row in FORM_SUBMITTED. The public code comes
// from the escrow_code_seq default.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, p CreateParams) (Escrow, error) {
	query := `
INSERT INTO escrows
  (chat_ref, buyer_id, seller_id, deal_title, description, amount, fee_amount,
   delivery_deadline, refund_terms, dispute_agreed, state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'FORM_SUBMITTED')
RETURNING` + escrowColumns

	e, err := scanEscrow(tx.QueryRow(ctx, query,
		p.ChatRef, p.BuyerID, p.SellerID, p.DealTitle, p.Description,
		p.Amount, p.FeeAmount, p.DeliveryDeadline, p.RefundTerms, p.DisputeAgreed,
	))
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: insert: %w", err)
	}
	return e, nil
}

// UpdateState writes the new state for an already-locked escrow row. Callers
// must have verified the edge via CanTransition first.
func (r *Repository) UpdateState(ctx context.Context, tx pgx.Tx, escrowID string, to State) error {
	tag, err := tx.Exec(ctx,
		`UPDATE escrows SET state = $1, updated_at = now() WHERE id = $2`,
		string(to), escrowID)
	if err != nil {
		return fmt.Errorf("escrow: update state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("escrow: update state touched %d rows", tag.RowsAffected())
	}
	return nil
}

// AppendLog writes one immutable audit entry.
func (r *Repository) AppendLog(ctx context.Context, tx pgx.Tx, escrowID, chatRef, actorID, action string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal log payload: %w", err)
	}
	const q = `
INSERT INTO escrow_logs (escrow_id, chat_ref, actor_id, action, payload)
VALUES ($1, $2, $3, $4, $5::jsonb)
`
	if _, err := tx.Exec(ctx, q, escrowID, chatRef, actorID, action, body); err != nil {
		return fmt.Errorf("escrow: append log: %w", err)
	}
	return nil
}

// DistinctActors returns the distinct actor identities that have logged the
// given action for this escrow. The reconciler reads the log, not a counter,
// so duplicate acknowledgements from one party are absorbed here.
func (r *Repository) DistinctActors(ctx context.Context, tx pgx.Tx, escrowID, action string) ([]string, error) {
	rows, err := tx.Query(ctx,
		`SELECT DISTINCT actor_id FROM escrow_logs WHERE escrow_id = $1 AND action = $2`,
		escrowID, action)
	if err != nil {
		return nil, fmt.Errorf("escrow: distinct actors: %w", err)
	}
	defer rows.Close()

	actors := make([]string, 0, 2)
	for rows.Next() {
		var actor string
		if err := rows.Scan(&actor); err != nil {
			return nil, fmt.Errorf("escrow: scan actor: %w", err)
		}
		actors = append(actors, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate actors: %w", err)
	}
	return actors, nil
}

// EnqueueOutbox writes a domain event row for post-commit delivery.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("escrow: enqueue outbox: %w", err)
	}
	return nil
}

// ListFilters narrows the admin escrow listing.
type ListFilters struct {
	State    State
	Page     int
	PageSize int
}

// List returns escrows for the admin surface, newest first.
func (r *Repository) List(ctx context.Context, pool *pgxpool.Pool, filters ListFilters) ([]Escrow, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := `SELECT` + escrowColumns + ` FROM escrows`
	countQuery := `SELECT COUNT(*) FROM escrows`
	args := []any{}
	if filters.State != "" {
		query += ` WHERE state = $1`
		countQuery += ` WHERE state = $1`
		args = append(args, string(filters.State))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("escrow: list: %w", err)
	}
	defer rows.Close()

	out := make([]Escrow, 0, filters.PageSize)
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("escrow: scan list row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("escrow: iterate list: %w", err)
	}

	var total int
	if err := pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("escrow: count: %w", err)
	}
	return out, total, nil
}

// Log returns the full action history for one escrow, oldest first.
func (r *Repository) Log(ctx context.Context, pool *pgxpool.Pool, escrowID string) ([]LogEntry, error) {
	const q = `
SELECT id, escrow_id, chat_ref, actor_id, action, payload, created_at
FROM escrow_logs
WHERE escrow_id = $1
ORDER BY id
`
	rows, err := pool.Query(ctx, q, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow: load log: %w", err)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0, 16)
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.EscrowID, &entry.ChatRef, &entry.ActorID,
			&entry.Action, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate log: %w", err)
	}
	return entries, nil
}

// OverdueForUpdate locks and returns escrows past their delivery deadline
// that have not yet been funded. SKIP LOCKED keeps the sweep from stalling
// behind in-flight action units.
func (r *Repository) OverdueForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Escrow, error) {
	query := `SELECT` + escrowColumns + `
FROM escrows
WHERE delivery_deadline < $1
  AND state IN ('CREATED', 'FORM_SUBMITTED', 'AGREEMENT_PREVIEW', 'AGREED')
ORDER BY delivery_deadline
LIMIT $2
FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow: overdue scan: %w", err)
	}
	defer rows.Close()

	out := make([]Escrow, 0, limit)
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan overdue row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate overdue: %w", err)
	}
	return out, nil
}
