// Package memory is an in-process implementation of the ledger store ports.
// All transactions are serialized behind one mutex and undone from a journal
// on rollback. Within a transaction only the pgx.Tx methods may be used; the
// non-transactional reads take the same mutex.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type balanceKey struct {
	walletID int64
	token    string
}

// Store holds every table of the ledger in memory.
type Store struct {
	mu sync.Mutex

	seqUser, seqWallet, seqBalance, seqTx int64

	users        map[int64]*domain.User
	wallets      map[int64]*domain.Wallet
	balances     map[balanceKey]*domain.Balance
	transactions map[int64]*domain.TransactionRecord
	idempotency  map[string]*domain.IdempotencyLog
	audit        []domain.AuditLog

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:        make(map[int64]*domain.User),
		wallets:      make(map[int64]*domain.Wallet),
		balances:     make(map[balanceKey]*domain.Balance),
		transactions: make(map[int64]*domain.TransactionRecord),
		idempotency:  make(map[string]*domain.IdempotencyLog),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// memTx is the pgx.Tx handed to repositories. It owns the store mutex from
// Begin until Commit or Rollback.
type memTx struct {
	store *Store
	undo  []func()
	done  bool
}

func (t *memTx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errNoSQL
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errNoSQL
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errNoSQL
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errNoSQL
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{}
}
func (t *memTx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(dest ...any) error { return errNoSQL }

// asTx unwraps a transaction started by this store.
func (s *Store) asTx(tx pgx.Tx) (*memTx, error) {
	t, ok := tx.(*memTx)
	if !ok || t.store != s {
		return nil, errors.New("memory store: transaction was not started by this store")
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// Transactor implements ports.DBTransactor.
type Transactor struct {
	store *Store
}

// NewTransactor creates a Transactor for the store.
func NewTransactor(s *Store) *Transactor {
	return &Transactor{store: s}
}

// Begin blocks until no other transaction is open.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	return &memTx{store: t.store}, nil
}

// InTx runs fn in a transaction. Transactions never conflict here, so there
// is nothing to retry.
func (t *Transactor) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := t.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// HealthCheck implements ports.HealthChecker; the store is always reachable.
type HealthCheck struct{}

func NewHealthCheck() *HealthCheck { return &HealthCheck{} }

func (HealthCheck) Ping(ctx context.Context) error { return nil }

func (HealthCheck) Name() string { return "memory" }
