package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

// TransferEngine implements ports.TransferService.
type TransferEngine struct {
	wallets    ports.WalletRepository
	balances   ports.BalanceRepository
	txRepo     ports.TransactionRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	accountant ports.BalanceAccountant
	transactor ports.DBTransactor
	notifier
}

// NewTransferEngine creates a new TransferEngine.
func NewTransferEngine(
	wallets ports.WalletRepository,
	balances ports.BalanceRepository,
	txRepo ports.TransactionRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	accountant ports.BalanceAccountant,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	log zerolog.Logger,
) *TransferEngine {
	return &TransferEngine{
		wallets:    wallets,
		balances:   balances,
		txRepo:     txRepo,
		idempRepo:  idempRepo,
		idempCache: idempCache,
		accountant: accountant,
		transactor: transactor,
		notifier:   notifier{publisher: publisher, log: log.With().Str("component", "transfer_engine").Logger()},
	}
}

// InternalTransfer moves funds between two custodial wallets off chain. Both
// balance rows are locked in ascending wallet order before either changes.
func (e *TransferEngine) InternalTransfer(ctx context.Context, req ports.InternalTransferRequest) (*domain.TransactionRecord, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	token, err := normalizeToken(req.Token)
	if err != nil {
		return nil, err
	}

	from, err := e.walletOf(ctx, req.FromUserID)
	if err != nil {
		return nil, err
	}
	to, err := e.destination(ctx, req)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return nil, apperror.Validation("cannot transfer to the same wallet")
	}

	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["to_user_id"] = to.UserID
	metadata["to_wallet_id"] = to.ID

	rec := &domain.TransactionRecord{
		UserID:      req.FromUserID,
		WalletID:    from.ID,
		Kind:        domain.TxKindInternalTransfer,
		FromAddress: from.Address,
		ToAddress:   to.Address,
		Token:       token,
		Amount:      req.Amount,
		Fee:         decimal.Zero,
		Status:      domain.TransactionStatusCompleted,
		Metadata:    metadata,
	}

	err = e.transactor.InTx(ctx, func(tx pgx.Tx) error {
		if err := e.balances.Ensure(ctx, tx, to.ID, token); err != nil {
			return fmt.Errorf("ensure destination balance: %w", err)
		}
		if _, err := e.balances.LockRows(ctx, tx, token, from.ID, to.ID); err != nil {
			return fmt.Errorf("lock balances: %w", err)
		}
		if err := e.accountant.DebitTx(ctx, tx, from.ID, token, req.Amount); err != nil {
			return err
		}
		if err := e.accountant.CreditTx(ctx, tx, to.ID, token, req.Amount); err != nil {
			return err
		}
		if err := e.txRepo.Create(ctx, tx, rec); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, txError(err)
	}

	e.publish(ctx, domain.EventTransferCompleted, rec)
	e.log.Info().
		Int64("tx_id", rec.ID).
		Int64("from_wallet_id", from.ID).
		Int64("to_wallet_id", to.ID).
		Str("token", token).
		Str("amount", req.Amount.String()).
		Msg("internal transfer completed")
	return rec, nil
}

// RequestWithdrawal reserves the amount and records a PENDING withdrawal.
// Nothing is broadcast here; the confirmation feed drives the rest. A
// repeated ReferenceID returns the original record.
func (e *TransferEngine) RequestWithdrawal(ctx context.Context, req ports.WithdrawalRequest) (*domain.TransactionRecord, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	token, err := normalizeToken(req.Token)
	if err != nil {
		return nil, err
	}
	if _, err := solana.PublicKeyFromBase58(req.ToAddress); err != nil {
		return nil, apperror.ErrInvalidAddress()
	}

	var idempKey string
	if req.ReferenceID != "" {
		idempKey = domain.BuildWithdrawalIdempotencyKey(req.UserID, req.ReferenceID)
		if rec, err := e.replay(ctx, idempKey); rec != nil || err != nil {
			return rec, err
		}
	}

	wallet, err := e.walletOf(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.ToAddress == wallet.Address {
		return nil, apperror.ErrInvalidAddress()
	}

	rec := &domain.TransactionRecord{
		UserID:      req.UserID,
		WalletID:    wallet.ID,
		Kind:        domain.TxKindWithdraw,
		FromAddress: wallet.Address,
		ToAddress:   req.ToAddress,
		Token:       token,
		Amount:      req.Amount,
		Fee:         decimal.Zero,
		Status:      domain.TransactionStatusPending,
		Metadata:    req.Metadata,
	}
	if req.ReferenceID != "" {
		rec.ReferenceID = strPtr(req.ReferenceID)
	}

	var respJSON []byte
	err = e.transactor.InTx(ctx, func(tx pgx.Tx) error {
		if err := e.accountant.ReserveTx(ctx, tx, wallet.ID, token, rec.ReservedAmount()); err != nil {
			return err
		}
		if err := e.txRepo.Create(ctx, tx, rec); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		if idempKey == "" {
			return nil
		}

		var merr error
		if respJSON, merr = json.Marshal(rec); merr != nil {
			return fmt.Errorf("marshal response: %w", merr)
		}
		return e.idempRepo.Create(ctx, tx, &domain.IdempotencyLog{
			Key:           idempKey,
			TransactionID: rec.ID,
			ResponseJSON:  respJSON,
			CreatedAt:     time.Now().UTC(),
		})
	})
	if err != nil {
		// A concurrent request with the same reference won the insert.
		if idempKey != "" && errors.Is(err, domain.ErrDuplicate) {
			if stored, rerr := e.replay(ctx, idempKey); stored != nil || rerr != nil {
				return stored, rerr
			}
		}
		return nil, txError(err)
	}

	if idempKey != "" {
		if err := e.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
			e.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	e.publish(ctx, domain.EventWithdrawalRequested, rec)
	e.log.Info().
		Int64("tx_id", rec.ID).
		Int64("wallet_id", wallet.ID).
		Str("token", token).
		Str("amount", req.Amount.String()).
		Str("to", req.ToAddress).
		Msg("withdrawal requested")
	return rec, nil
}

// CancelWithdrawal cancels a PENDING withdrawal and releases its reservation.
func (e *TransferEngine) CancelWithdrawal(ctx context.Context, userID, transactionID int64) (*domain.TransactionRecord, error) {
	var rec *domain.TransactionRecord
	err := e.transactor.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		rec, err = e.txRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if rec == nil || rec.UserID != userID {
			return apperror.ErrNotFound("transaction")
		}
		if rec.Kind != domain.TxKindWithdraw {
			return apperror.Validation("only withdrawals can be cancelled")
		}
		if !rec.Status.CanTransitionTo(domain.TransactionStatusCancelled) {
			return apperror.ErrInvalidTransition(string(rec.Status), string(domain.TransactionStatusCancelled))
		}

		if err := e.accountant.ReleaseTx(ctx, tx, rec.WalletID, rec.Token, rec.ReservedAmount()); err != nil {
			return err
		}
		if err := e.txRepo.UpdateStatus(ctx, tx, ports.StatusUpdate{
			ID:                rec.ID,
			Status:            domain.TransactionStatusCancelled,
			ConfirmationCount: rec.ConfirmationCount,
			ErrorDetail:       rec.ErrorDetail,
		}); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		rec.Status = domain.TransactionStatusCancelled
		return nil
	})
	if err != nil {
		return nil, txError(err)
	}

	e.publish(ctx, domain.EventWithdrawalCancelled, rec)
	e.log.Info().Int64("tx_id", rec.ID).Int64("user_id", userID).Msg("withdrawal cancelled")
	return rec, nil
}

func (e *TransferEngine) walletOf(ctx context.Context, userID int64) (*domain.Wallet, error) {
	w, err := e.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return w, nil
}

func (e *TransferEngine) destination(ctx context.Context, req ports.InternalTransferRequest) (*domain.Wallet, error) {
	var (
		w   *domain.Wallet
		err error
	)
	switch {
	case req.ToAddress != "":
		if _, perr := solana.PublicKeyFromBase58(req.ToAddress); perr != nil {
			return nil, apperror.ErrInvalidAddress()
		}
		w, err = e.wallets.GetByAddress(ctx, req.ToAddress)
	case req.ToUserID != 0:
		w, err = e.wallets.GetByUserID(ctx, req.ToUserID)
	default:
		return nil, apperror.Validation("destination user or address is required")
	}
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get destination wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("destination wallet")
	}
	return w, nil
}

// replay looks the key up in Redis, then in the database log. It returns
// (nil, nil) when the request has not been seen.
func (e *TransferEngine) replay(ctx context.Context, key string) (*domain.TransactionRecord, error) {
	cached, err := e.idempCache.Get(ctx, key)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return unmarshalRecord(cached)
	}

	log, err := e.idempRepo.Get(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if log != nil {
		return unmarshalRecord(log.ResponseJSON)
	}
	return nil, nil
}

func unmarshalRecord(data []byte) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached record: %w", err))
	}
	return &rec, nil
}
