package memory

import (
	"context"
	"fmt"
	"sort"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var balanceCeiling = decimal.New(1, domain.AmountIntegerDigits)

// BalanceRepo implements ports.BalanceRepository with the same guards as the
// conditional SQL statements.
type BalanceRepo struct {
	store *Store
}

func NewBalanceRepo(s *Store) *BalanceRepo { return &BalanceRepo{store: s} }

func (r *BalanceRepo) Get(ctx context.Context, walletID int64, token string) (*domain.Balance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.copyOf(walletID, token), nil
}

func (r *BalanceRepo) GetTx(ctx context.Context, tx pgx.Tx, walletID int64, token string) (*domain.Balance, error) {
	if _, err := r.store.asTx(tx); err != nil {
		return nil, err
	}
	return r.copyOf(walletID, token), nil
}

func (r *BalanceRepo) ListByWallet(ctx context.Context, walletID int64) ([]domain.Balance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []domain.Balance
	for k, b := range r.store.balances {
		if k.walletID == walletID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (r *BalanceRepo) Ensure(ctx context.Context, tx pgx.Tx, walletID int64, token string) error {
	t, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	_, err = r.row(t, walletID, token)
	return err
}

// LockRows returns the rows in ascending wallet order. The store mutex is
// already held by the transaction, so no further locking is needed.
func (r *BalanceRepo) LockRows(ctx context.Context, tx pgx.Tx, token string, walletIDs ...int64) ([]domain.Balance, error) {
	if _, err := r.store.asTx(tx); err != nil {
		return nil, err
	}
	ids := append([]int64(nil), walletIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []domain.Balance
	for _, id := range ids {
		if b, ok := r.store.balances[balanceKey{id, token}]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *BalanceRepo) Reserve(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	return r.apply(tx, "reserve", walletID, token, func(b *domain.Balance) error {
		if b.Available.LessThan(amount) {
			return domain.ErrInsufficientAvailable
		}
		b.Available = b.Available.Sub(amount)
		b.Locked = b.Locked.Add(amount)
		return nil
	})
}

func (r *BalanceRepo) Release(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	return r.apply(tx, "release", walletID, token, func(b *domain.Balance) error {
		if b.Locked.LessThan(amount) {
			return domain.ErrInsufficientLocked
		}
		b.Locked = b.Locked.Sub(amount)
		b.Available = b.Available.Add(amount)
		return nil
	})
}

func (r *BalanceRepo) Settle(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	return r.apply(tx, "settle", walletID, token, func(b *domain.Balance) error {
		if b.Locked.LessThan(amount) {
			return domain.ErrInsufficientLocked
		}
		b.Locked = b.Locked.Sub(amount)
		return nil
	})
}

func (r *BalanceRepo) Debit(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	return r.apply(tx, "debit", walletID, token, func(b *domain.Balance) error {
		if b.Available.LessThan(amount) {
			return domain.ErrInsufficientAvailable
		}
		b.Available = b.Available.Sub(amount)
		return nil
	})
}

func (r *BalanceRepo) Credit(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) (*domain.Balance, error) {
	t, err := r.store.asTx(tx)
	if err != nil {
		return nil, err
	}
	if _, err := r.row(t, walletID, token); err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	return r.apply(tx, "credit", walletID, token, func(b *domain.Balance) error {
		next := b.Available.Add(amount)
		if next.GreaterThanOrEqual(balanceCeiling) {
			return domain.ErrInvalidAmount
		}
		b.Available = next
		return nil
	})
}

// apply mutates an existing row only if guard succeeds. A missing row fails
// the same way a failed guard does.
func (r *BalanceRepo) apply(tx pgx.Tx, op string, walletID int64, token string, guard func(*domain.Balance) error) (*domain.Balance, error) {
	t, err := r.store.asTx(tx)
	if err != nil {
		return nil, err
	}
	b, ok := r.store.balances[balanceKey{walletID, token}]
	if !ok {
		zero := domain.Balance{}
		if gerr := guard(&zero); gerr != nil {
			return nil, fmt.Errorf("%s balance: %w", op, gerr)
		}
		return nil, fmt.Errorf("%s balance: wallet %d has no %s row", op, walletID, token)
	}

	next := *b
	if err := guard(&next); err != nil {
		return nil, fmt.Errorf("%s balance: %w", op, err)
	}
	prev := *b
	next.UpdatedAt = r.store.now()
	*b = next
	t.record(func() { *b = prev })

	out := next
	return &out, nil
}

// row returns the live row, creating a zero one inside t when absent.
func (r *BalanceRepo) row(t *memTx, walletID int64, token string) (*domain.Balance, error) {
	s := r.store
	key := balanceKey{walletID, token}
	if b, ok := s.balances[key]; ok {
		return b, nil
	}
	if _, ok := s.wallets[walletID]; !ok {
		return nil, fmt.Errorf("wallet %d does not exist", walletID)
	}
	s.seqBalance++
	b := &domain.Balance{
		ID:        s.seqBalance,
		WalletID:  walletID,
		Token:     token,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		UpdatedAt: s.now(),
	}
	s.balances[key] = b
	t.record(func() { delete(s.balances, key) })
	return b, nil
}

// copyOf must be called with the store mutex held.
func (r *BalanceRepo) copyOf(walletID int64, token string) *domain.Balance {
	if b, ok := r.store.balances[balanceKey{walletID, token}]; ok {
		cp := *b
		return &cp
	}
	return nil
}
