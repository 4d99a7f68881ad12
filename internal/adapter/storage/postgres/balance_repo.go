package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const balanceColumns = `id, wallet_id, token, available_amount, locked_amount, updated_at`

// BalanceRepo implements ports.BalanceRepository. Each mutation is one
// conditional statement, so the check and the write happen under the same
// row lock.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// Get fetches a balance row (non-locking read).
func (r *BalanceRepo) Get(ctx context.Context, walletID int64, token string) (*domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE wallet_id = $1 AND token = $2`
	return scanBalance(r.pool.QueryRow(ctx, query, walletID, token))
}

// GetTx fetches a balance row inside a transaction.
func (r *BalanceRepo) GetTx(ctx context.Context, tx pgx.Tx, walletID int64, token string) (*domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE wallet_id = $1 AND token = $2`
	return scanBalance(tx.QueryRow(ctx, query, walletID, token))
}

// ListByWallet returns every token balance of a wallet ordered by token.
func (r *BalanceRepo) ListByWallet(ctx context.Context, walletID int64) ([]domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE wallet_id = $1 ORDER BY token`

	rows, err := r.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	return collectBalances(rows)
}

// Ensure creates a zero balance row when none exists.
func (r *BalanceRepo) Ensure(ctx context.Context, tx pgx.Tx, walletID int64, token string) error {
	query := `INSERT INTO balances (wallet_id, token, available_amount, locked_amount)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (wallet_id, token) DO NOTHING`

	if _, err := tx.Exec(ctx, query, walletID, token); err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	return nil
}

// LockRows takes FOR UPDATE locks on the token balances of the given wallets.
// Rows are locked in ascending wallet ID order so two transfers touching the
// same pair cannot deadlock.
func (r *BalanceRepo) LockRows(ctx context.Context, tx pgx.Tx, token string, walletIDs ...int64) ([]domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances
		WHERE token = $1 AND wallet_id = ANY($2)
		ORDER BY wallet_id
		FOR UPDATE`

	rows, err := tx.Query(ctx, query, token, walletIDs)
	if err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}
	defer rows.Close()

	return collectBalances(rows)
}

// Reserve moves amount from available to locked if available covers it.
func (r *BalanceRepo) Reserve(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	query := `UPDATE balances
		SET available_amount = available_amount - $3, locked_amount = locked_amount + $3, updated_at = NOW()
		WHERE wallet_id = $1 AND token = $2 AND available_amount >= $3
		RETURNING ` + balanceColumns

	return r.conditional(ctx, tx, "reserve", domain.ErrInsufficientAvailable, query, walletID, token, amount)
}

// Release moves amount from locked back to available.
func (r *BalanceRepo) Release(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	query := `UPDATE balances
		SET locked_amount = locked_amount - $3, available_amount = available_amount + $3, updated_at = NOW()
		WHERE wallet_id = $1 AND token = $2 AND locked_amount >= $3
		RETURNING ` + balanceColumns

	return r.conditional(ctx, tx, "release", domain.ErrInsufficientLocked, query, walletID, token, amount)
}

// Settle removes amount from locked; the funds have left custody.
func (r *BalanceRepo) Settle(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	query := `UPDATE balances
		SET locked_amount = locked_amount - $3, updated_at = NOW()
		WHERE wallet_id = $1 AND token = $2 AND locked_amount >= $3
		RETURNING ` + balanceColumns

	return r.conditional(ctx, tx, "settle", domain.ErrInsufficientLocked, query, walletID, token, amount)
}

// Debit removes amount from available.
func (r *BalanceRepo) Debit(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	query := `UPDATE balances
		SET available_amount = available_amount - $3, updated_at = NOW()
		WHERE wallet_id = $1 AND token = $2 AND available_amount >= $3
		RETURNING ` + balanceColumns

	return r.conditional(ctx, tx, "debit", domain.ErrInsufficientAvailable, query, walletID, token, amount)
}

// Credit adds amount to available, creating the row on first use.
func (r *BalanceRepo) Credit(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	query := `INSERT INTO balances (wallet_id, token, available_amount, locked_amount)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (wallet_id, token)
		DO UPDATE SET available_amount = balances.available_amount + EXCLUDED.available_amount, updated_at = NOW()
		RETURNING ` + balanceColumns

	b, err := scanBalance(tx.QueryRow(ctx, query, walletID, token, amount))
	if err != nil {
		if isNumericOverflow(err) {
			return nil, fmt.Errorf("credit balance: %w", domain.ErrInvalidAmount)
		}
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	return b, nil
}

// conditional runs a guarded UPDATE ... RETURNING. No returned row means the
// guard failed (or the row does not exist) and nothing was written.
func (r *BalanceRepo) conditional(ctx context.Context, tx pgx.Tx, op string, guardErr error, query string, args ...any) (*domain.Balance, error) {
	b, err := scanBalance(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("%s balance: %w", op, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%s balance: %w", op, guardErr)
	}
	return b, nil
}

func scanBalance(row pgx.Row) (*domain.Balance, error) {
	b := &domain.Balance{}
	err := row.Scan(&b.ID, &b.WalletID, &b.Token, &b.Available, &b.Locked, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan balance: %w", err)
	}
	return b, nil
}

func collectBalances(rows pgx.Rows) ([]domain.Balance, error) {
	var balances []domain.Balance
	for rows.Next() {
		b := domain.Balance{}
		if err := rows.Scan(&b.ID, &b.WalletID, &b.Token, &b.Available, &b.Locked, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance rows: %w", err)
	}
	return balances, nil
}
