package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, user_id, wallet_id, tx_kind, tx_hash, reference_id, from_address, to_address,
		token, amount, fee, status, confirmation_count, error_detail, metadata, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a transaction record within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.TransactionRecord) error {
	query := `INSERT INTO transactions (user_id, wallet_id, tx_kind, tx_hash, reference_id, from_address, to_address,
		token, amount, fee, status, confirmation_count, error_detail, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	err := tx.QueryRow(ctx, query,
		t.UserID, t.WalletID, t.Kind, t.TxHash, t.ReferenceID, t.FromAddress, t.ToAddress,
		t.Token, t.Amount, t.Fee, t.Status, t.ConfirmationCount, t.ErrorDetail, t.Metadata,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert transaction: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction record by ID.
func (r *TransactionRepo) GetByID(ctx context.Context, id int64) (*domain.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction record with a row lock.
// This MUST be called within a transaction.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

// GetByHash fetches a transaction record by its on-chain signature.
func (r *TransactionRepo) GetByHash(ctx context.Context, txHash string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tx_hash = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, txHash))
}

// UpdateStatus writes the mutable fields of a record within a transaction.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, u ports.StatusUpdate) error {
	query := `UPDATE transactions
		SET status = $1, confirmation_count = $2, error_detail = $3, tx_hash = COALESCE($4, tx_hash), updated_at = NOW()
		WHERE id = $5`

	tag, err := tx.Exec(ctx, query, u.Status, u.ConfirmationCount, u.ErrorDetail, u.TxHash, u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update transaction status: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %d", u.ID)
	}
	return nil
}

// ListByUser fetches a user's records newest first with filtering and pagination.
func (r *TransactionRepo) ListByUser(ctx context.Context, params ports.TransactionListParams) ([]domain.TransactionRecord, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("tx_kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.Token != nil {
		conditions = append(conditions, fmt.Sprintf("token = $%d", argIdx))
		args = append(args, *params.Token)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		t, err := scanTransactionFields(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		records = append(records, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return records, total, nil
}

func scanTransaction(row pgx.Row) (*domain.TransactionRecord, error) {
	t, err := scanTransactionFields(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func scanTransactionFields(row pgx.Row) (*domain.TransactionRecord, error) {
	t := &domain.TransactionRecord{}
	err := row.Scan(
		&t.ID, &t.UserID, &t.WalletID, &t.Kind, &t.TxHash, &t.ReferenceID,
		&t.FromAddress, &t.ToAddress, &t.Token, &t.Amount, &t.Fee, &t.Status,
		&t.ConfirmationCount, &t.ErrorDetail, &t.Metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
