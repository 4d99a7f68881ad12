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

const defaultFailureDetail = "withdrawal failed on chain"

// ConfirmationService implements ports.ConfirmationService. It is the only
// entry point for the on-chain feed and owns the CONFIRMING, COMPLETED and
// FAILED transitions of withdrawals.
type ConfirmationService struct {
	wallets          ports.WalletRepository
	txRepo           ports.TransactionRepository
	accountant       ports.BalanceAccountant
	transactor       ports.DBTransactor
	minConfirmations int
	notifier
}

// NewConfirmationService creates a new ConfirmationService. A CONFIRMED
// outcome with fewer than minConfirmations observations is treated as a
// sighting only.
func NewConfirmationService(
	wallets ports.WalletRepository,
	txRepo ports.TransactionRepository,
	accountant ports.BalanceAccountant,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	minConfirmations int,
	log zerolog.Logger,
) *ConfirmationService {
	if minConfirmations < 1 {
		minConfirmations = 1
	}
	return &ConfirmationService{
		wallets:          wallets,
		txRepo:           txRepo,
		accountant:       accountant,
		transactor:       transactor,
		minConfirmations: minConfirmations,
		notifier:         notifier{publisher: publisher, log: log.With().Str("component", "confirmation").Logger()},
	}
}

// HandleConfirmation applies one feed observation to a withdrawal. Settling
// or releasing the reservation happens in the same transaction as the status
// change. Redelivery of the outcome a record already ended in is a no-op.
func (s *ConfirmationService) HandleConfirmation(ctx context.Context, event ports.ConfirmationEvent) (*domain.TransactionRecord, error) {
	if event.TransactionID <= 0 {
		return nil, apperror.Validation("transaction_id is required")
	}
	if event.ObservedConfirmations < 0 {
		return nil, apperror.Validation("observed_confirmations must not be negative")
	}

	target, err := s.targetStatus(event)
	if err != nil {
		return nil, err
	}

	var (
		rec     *domain.TransactionRecord
		changed bool
	)
	err = s.transactor.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		rec, err = s.txRepo.GetByIDForUpdate(ctx, tx, event.TransactionID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if rec == nil {
			return apperror.ErrNotFound("transaction")
		}
		if rec.Kind != domain.TxKindWithdraw {
			return apperror.Validation("only withdrawals are driven by the confirmation feed")
		}

		if rec.IsTerminal() {
			return s.checkRedelivery(ctx, rec, target)
		}
		if !rec.Status.CanTransitionTo(target) {
			return apperror.ErrInvalidTransition(string(rec.Status), string(target))
		}

		update := ports.StatusUpdate{
			ID:                rec.ID,
			Status:            target,
			ConfirmationCount: max(rec.ConfirmationCount, event.ObservedConfirmations),
			ErrorDetail:       rec.ErrorDetail,
		}
		if event.TxHash != "" {
			update.TxHash = strPtr(event.TxHash)
		}

		switch target {
		case domain.TransactionStatusCompleted:
			if err := s.accountant.SettleTx(ctx, tx, rec.WalletID, rec.Token, rec.ReservedAmount()); err != nil {
				return err
			}
		case domain.TransactionStatusFailed:
			if err := s.accountant.ReleaseTx(ctx, tx, rec.WalletID, rec.Token, rec.ReservedAmount()); err != nil {
				return err
			}
			detail := event.ErrorDetail
			if detail == "" {
				detail = defaultFailureDetail
			}
			update.ErrorDetail = strPtr(detail)
		}

		if err := s.txRepo.UpdateStatus(ctx, tx, update); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return apperror.Validation("tx_hash is already recorded on another transaction")
			}
			return fmt.Errorf("update status: %w", err)
		}

		rec.Status = update.Status
		rec.ConfirmationCount = update.ConfirmationCount
		rec.ErrorDetail = update.ErrorDetail
		if update.TxHash != nil {
			rec.TxHash = update.TxHash
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, txError(err)
	}

	if changed {
		switch rec.Status {
		case domain.TransactionStatusCompleted:
			s.publish(ctx, domain.EventWithdrawalCompleted, rec)
		case domain.TransactionStatusFailed:
			s.publish(ctx, domain.EventWithdrawalFailed, rec)
		}
		s.log.Info().
			Int64("tx_id", rec.ID).
			Str("status", string(rec.Status)).
			Int("confirmations", rec.ConfirmationCount).
			Msg("withdrawal status updated")
	}
	return rec, nil
}

// RecordDeposit credits a final inbound transfer. The chain transaction hash
// is the dedupe key: a repeated hash returns the existing record without a
// second credit.
func (s *ConfirmationService) RecordDeposit(ctx context.Context, event ports.DepositEvent) (*domain.TransactionRecord, error) {
	if err := validateAmount(event.Amount); err != nil {
		return nil, err
	}
	token, err := normalizeToken(event.Token)
	if err != nil {
		return nil, err
	}
	if event.TxHash == "" {
		return nil, apperror.Validation("tx_hash is required")
	}

	if existing, err := s.depositByHash(ctx, event.TxHash); existing != nil || err != nil {
		return existing, err
	}

	wallet, err := s.wallets.GetByAddress(ctx, event.ToAddress)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	rec := &domain.TransactionRecord{
		UserID:            wallet.UserID,
		WalletID:          wallet.ID,
		Kind:              domain.TxKindDeposit,
		TxHash:            strPtr(event.TxHash),
		FromAddress:       event.FromAddress,
		ToAddress:         wallet.Address,
		Token:             token,
		Amount:            event.Amount,
		Fee:               decimal.Zero,
		Status:            domain.TransactionStatusCompleted,
		ConfirmationCount: s.minConfirmations,
		Metadata:          map[string]any{"slot": event.Slot},
	}

	err = s.transactor.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.accountant.CreditTx(ctx, tx, wallet.ID, token, event.Amount); err != nil {
			return err
		}
		if err := s.txRepo.Create(ctx, tx, rec); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			if existing, lerr := s.depositByHash(ctx, event.TxHash); existing != nil || lerr != nil {
				return existing, lerr
			}
		}
		return nil, txError(err)
	}

	s.publish(ctx, domain.EventDepositCredited, rec)
	s.log.Info().
		Int64("tx_id", rec.ID).
		Int64("wallet_id", wallet.ID).
		Str("token", token).
		Str("amount", event.Amount.String()).
		Str("tx_hash", event.TxHash).
		Msg("deposit credited")
	return rec, nil
}

func (s *ConfirmationService) targetStatus(event ports.ConfirmationEvent) (domain.TransactionStatus, error) {
	switch event.Outcome {
	case ports.OutcomeObserved:
		return domain.TransactionStatusConfirming, nil
	case ports.OutcomeConfirmed:
		if event.ObservedConfirmations >= s.minConfirmations {
			return domain.TransactionStatusCompleted, nil
		}
		return domain.TransactionStatusConfirming, nil
	case ports.OutcomeFailed:
		return domain.TransactionStatusFailed, nil
	default:
		return "", apperror.Validation("outcome must be OBSERVED, CONFIRMED or FAILED")
	}
}

// checkRedelivery decides what a feed event means for a record that has
// already reached a final state.
func (s *ConfirmationService) checkRedelivery(ctx context.Context, rec *domain.TransactionRecord, target domain.TransactionStatus) error {
	switch {
	case rec.Status == target:
		s.log.Debug().Int64("tx_id", rec.ID).Str("status", string(rec.Status)).Msg("duplicate feed delivery ignored")
		return nil
	case !target.IsTerminal():
		s.log.Warn().Int64("tx_id", rec.ID).Str("status", string(rec.Status)).Msg("stale sighting for settled withdrawal ignored")
		return nil
	default:
		return s.invariant(ctx, domain.InvariantAlert{
			Operation:     "confirmation",
			WalletID:      rec.WalletID,
			TransactionID: rec.ID,
			Token:         rec.Token,
		}, fmt.Errorf("feed reports %s for withdrawal already %s", target, rec.Status))
	}
}

func (s *ConfirmationService) depositByHash(ctx context.Context, hash string) (*domain.TransactionRecord, error) {
	rec, err := s.txRepo.GetByHash(ctx, hash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction by hash: %w", err))
	}
	if rec == nil {
		return nil, nil
	}
	if rec.Kind != domain.TxKindDeposit {
		return nil, apperror.Validation("tx_hash belongs to a non-deposit transaction")
	}
	s.log.Info().Int64("tx_id", rec.ID).Str("tx_hash", hash).Msg("deposit already recorded")
	return rec, nil
}
