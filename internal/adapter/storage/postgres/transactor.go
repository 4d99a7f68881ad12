package postgres

import (
	"context"
	"fmt"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Transactor implements ports.DBTransactor using pgxpool.Pool.
type Transactor struct {
	pool        Pool
	maxAttempts int
	log         zerolog.Logger
}

// NewTransactor creates a new Transactor wrapping the connection pool.
// maxAttempts below 1 is treated as 1.
func NewTransactor(pool Pool, maxAttempts int, log zerolog.Logger) *Transactor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Transactor{pool: pool, maxAttempts: maxAttempts, log: log}
}

// Begin starts a new database transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}

// InTx runs fn in a transaction. Serialization failures and deadlocks are
// replayed immediately; after maxAttempts the error wraps
// domain.ErrConcurrencyConflict.
func (t *Transactor) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		err := t.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		t.log.Warn().Err(err).Int("attempt", attempt).Msg("Transaction aborted by concurrent update, retrying")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrConcurrencyConflict, t.maxAttempts, lastErr)
}

func (t *Transactor) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
