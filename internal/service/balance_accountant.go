package service

import (
	"context"
	"errors"
	"fmt"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BalanceAccountant implements ports.BalanceAccountant. Every mutation is a
// single conditional statement in the store, so a check and its write can
// never be split by a concurrent caller.
type BalanceAccountant struct {
	balances   ports.BalanceRepository
	transactor ports.DBTransactor
	notifier
}

// NewBalanceAccountant creates a new BalanceAccountant.
func NewBalanceAccountant(
	balances ports.BalanceRepository,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	log zerolog.Logger,
) *BalanceAccountant {
	log = log.With().Str("component", "balance_accountant").Logger()
	return &BalanceAccountant{
		balances:   balances,
		transactor: transactor,
		notifier:   notifier{publisher: publisher, log: log},
	}
}

// GetAvailable returns the spendable amount, zero when no row exists.
func (a *BalanceAccountant) GetAvailable(ctx context.Context, walletID int64, token string) (decimal.Decimal, error) {
	b, err := a.GetBalance(ctx, walletID, token)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Available, nil
}

// GetBalance returns both the available and locked amounts.
func (a *BalanceAccountant) GetBalance(ctx context.Context, walletID int64, token string) (*domain.Balance, error) {
	token, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}
	b, err := a.balances.Get(ctx, walletID, token)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get balance: %w", err))
	}
	if b == nil {
		return &domain.Balance{WalletID: walletID, Token: token, Available: decimal.Zero, Locked: decimal.Zero}, nil
	}
	return b, nil
}

// GetAllBalances maps every token the wallet holds to its available amount.
func (a *BalanceAccountant) GetAllBalances(ctx context.Context, walletID int64) (map[string]decimal.Decimal, error) {
	rows, err := a.balances.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list balances: %w", err))
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, b := range rows {
		out[b.Token] = b.Available
	}
	return out, nil
}

func (a *BalanceAccountant) Reserve(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error {
	return a.standalone(ctx, func(tx pgx.Tx) error { return a.ReserveTx(ctx, tx, walletID, token, amount) })
}

func (a *BalanceAccountant) Release(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error {
	return a.standalone(ctx, func(tx pgx.Tx) error { return a.ReleaseTx(ctx, tx, walletID, token, amount) })
}

func (a *BalanceAccountant) Settle(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error {
	return a.standalone(ctx, func(tx pgx.Tx) error { return a.SettleTx(ctx, tx, walletID, token, amount) })
}

func (a *BalanceAccountant) Credit(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error {
	return a.standalone(ctx, func(tx pgx.Tx) error { return a.CreditTx(ctx, tx, walletID, token, amount) })
}

func (a *BalanceAccountant) Debit(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error {
	return a.standalone(ctx, func(tx pgx.Tx) error { return a.DebitTx(ctx, tx, walletID, token, amount) })
}

// ReserveTx moves amount from available to locked.
func (a *BalanceAccountant) ReserveTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error {
	return a.mutate(ctx, "reserve", walletID, token, amount, func(token string) (*domain.Balance, error) {
		return a.balances.Reserve(ctx, tx, walletID, token, amount)
	})
}

// ReleaseTx returns a reservation to available.
func (a *BalanceAccountant) ReleaseTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error {
	return a.mutate(ctx, "release", walletID, token, amount, func(token string) (*domain.Balance, error) {
		return a.balances.Release(ctx, tx, walletID, token, amount)
	})
}

// SettleTx removes a reservation once the funds have left on chain.
func (a *BalanceAccountant) SettleTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error {
	return a.mutate(ctx, "settle", walletID, token, amount, func(token string) (*domain.Balance, error) {
		return a.balances.Settle(ctx, tx, walletID, token, amount)
	})
}

// CreditTx adds to available, creating the row if needed.
func (a *BalanceAccountant) CreditTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error {
	return a.mutate(ctx, "credit", walletID, token, amount, func(token string) (*domain.Balance, error) {
		return a.balances.Credit(ctx, tx, walletID, token, amount)
	})
}

// DebitTx removes from available without a reservation.
func (a *BalanceAccountant) DebitTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error {
	return a.mutate(ctx, "debit", walletID, token, amount, func(token string) (*domain.Balance, error) {
		return a.balances.Debit(ctx, tx, walletID, token, amount)
	})
}

func (a *BalanceAccountant) standalone(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return txError(a.transactor.InTx(ctx, fn))
}

func (a *BalanceAccountant) mutate(
	ctx context.Context,
	op string,
	walletID int64,
	token string,
	amount decimal.Decimal,
	apply func(token string) (*domain.Balance, error),
) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}

	b, err := apply(token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInsufficientAvailable):
		return apperror.ErrInsufficientFunds()
	case errors.Is(err, domain.ErrInsufficientLocked):
		return a.invariant(ctx, domain.InvariantAlert{
			Operation: op,
			WalletID:  walletID,
			Token:     token,
		}, fmt.Errorf("%s of %s would drive locked balance negative: %w", op, amount, err))
	case errors.Is(err, domain.ErrInvalidAmount):
		return apperror.ErrInvalidAmount()
	default:
		return apperror.InternalError(fmt.Errorf("%s balance: %w", op, err))
	}

	a.log.Debug().
		Str("op", op).
		Int64("wallet_id", walletID).
		Str("token", token).
		Str("amount", amount.String()).
		Str("available", b.Available.String()).
		Str("locked", b.Locked.String()).
		Msg("balance updated")
	return nil
}
