package gateway

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
)

// PoolReader adapts the escrow repository's pool-scoped read methods to the
// Reader interface.
type PoolReader struct {
	pool *pgxpool.Pool
	repo *escrow.Repository
}

func NewPoolReader(pool *pgxpool.Pool, repo *escrow.Repository) *PoolReader {
	if repo == nil {
		repo = escrow.NewRepository()
	}
	return &PoolReader{pool: pool, repo: repo}
}

func (r *PoolReader) GetByCode(ctx context.Context, code string) (escrow.Escrow, error) {
	return r.repo.GetByCode(ctx, r.pool, code)
}

func (r *PoolReader) List(ctx context.Context, filters escrow.ListFilters) ([]escrow.Escrow, int, error) {
	return r.repo.List(ctx, r.pool, filters)
}

func (r *PoolReader) Log(ctx context.Context, escrowID string) ([]escrow.LogEntry, error) {
	return r.repo.Log(ctx, r.pool, escrowID)
}
