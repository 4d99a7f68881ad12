package ports

import (
	"context"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Methods accepting pgx.Tx run inside a transaction opened by DBTransactor.
// Within such a transaction, callers must only use the Tx variants.

// UserRepository defines persistence operations for users.
type UserRepository interface {
	// Create inserts the user and sets its ID. Returns domain.ErrDuplicate
	// when the email is already taken.
	Create(ctx context.Context, tx pgx.Tx, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// WalletRepository defines persistence operations for wallets.
type WalletRepository interface {
	// Create inserts the wallet and sets its ID and CreatedAt. Returns
	// domain.ErrDuplicate when the user already has a wallet or the address exists.
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id int64) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID int64) (*domain.Wallet, error)
	GetByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	MarkReady(ctx context.Context, tx pgx.Tx, walletID int64) error
}

// BalanceRepository holds the atomic balance statements. Every mutation is a
// single conditional statement; a failed condition yields
// domain.ErrInsufficientAvailable or domain.ErrInsufficientLocked and leaves
// the row untouched.
type BalanceRepository interface {
	Get(ctx context.Context, walletID int64, token string) (*domain.Balance, error)
	GetTx(ctx context.Context, tx pgx.Tx, walletID int64, token string) (*domain.Balance, error)
	ListByWallet(ctx context.Context, walletID int64) ([]domain.Balance, error)
	// Ensure creates a zero balance row if none exists.
	Ensure(ctx context.Context, tx pgx.Tx, walletID int64, token string) error
	// LockRows takes row locks on the token balances of the given wallets in
	// ascending wallet ID order.
	LockRows(ctx context.Context, tx pgx.Tx, token string, walletIDs ...int64) ([]domain.Balance, error)
	Reserve(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error)
	Release(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error)
	Settle(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error)
	Credit(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error)
	Debit(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error)
}

// TransactionRepository defines persistence operations for transaction records.
type TransactionRepository interface {
	// Create inserts the record and sets ID, CreatedAt and UpdatedAt. Returns
	// domain.ErrDuplicate on a repeated tx hash or (user, reference) pair.
	Create(ctx context.Context, tx pgx.Tx, record *domain.TransactionRecord) error
	GetByID(ctx context.Context, id int64) (*domain.TransactionRecord, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.TransactionRecord, error)
	GetByHash(ctx context.Context, txHash string) (*domain.TransactionRecord, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, update StatusUpdate) error
	ListByUser(ctx context.Context, params TransactionListParams) ([]domain.TransactionRecord, int64, error)
}

// StatusUpdate carries the mutable fields of a transaction record.
type StatusUpdate struct {
	ID                int64
	Status            domain.TransactionStatus
	ConfirmationCount int
	ErrorDetail       *string
	TxHash            *string // nil keeps the stored hash
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID   int64
	Status   *domain.TransactionStatus
	Kind     *domain.TxKind
	Token    *string
	Page     int
	PageSize int
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	// InTx runs fn inside a transaction, committing on nil and rolling back
	// otherwise. Serialization failures and deadlocks are retried a bounded
	// number of times before domain.ErrConcurrencyConflict is returned.
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}
