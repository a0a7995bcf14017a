package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGCopier loads batches into PostgreSQL with COPY through a staging table,
// so re-loading the same file stays idempotent.
type PGCopier struct {
	pool *pgxpool.Pool
}

// NewPGCopier connects a pgx pool for bulk loading.
func NewPGCopier(ctx context.Context, dsn string) (*PGCopier, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	return &PGCopier{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (c *PGCopier) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Copy stages the batch with COPY and merges it into accounts and transfers.
func (c *PGCopier) Copy(ctx context.Context, batch *Batch) (int64, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		CREATE TEMP TABLE staging_transfers (
			id BIGINT,
			sender_id TEXT,
			receiver_id TEXT,
			amount DOUBLE PRECISION,
			step INTEGER,
			type TEXT,
			ground_truth_fraud BOOLEAN
		) ON COMMIT DROP
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	copied, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"staging_transfers"},
		[]string{"id", "sender_id", "receiver_id", "amount", "step", "type", "ground_truth_fraud"},
		pgx.CopyFromSlice(len(batch.Transfers), func(i int) ([]any, error) {
			r := batch.Transfers[i]
			return []any{r.ID, r.SenderID, r.ReceiverID, r.Amount, int32(r.Step), r.Type, r.Fraud}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy transfers: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO accounts (id)
		SELECT sender_id FROM staging_transfers
		UNION
		SELECT receiver_id FROM staging_transfers
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return 0, fmt.Errorf("failed to merge accounts: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO transfers (id, sender_id, receiver_id, amount, step, type, ground_truth_fraud)
		SELECT id, sender_id, receiver_id, amount, step, type, ground_truth_fraud
		FROM staging_transfers
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return 0, fmt.Errorf("failed to merge transfers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return copied, nil
}
