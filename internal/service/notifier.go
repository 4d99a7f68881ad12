package service

import (
	"context"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// notifier publishes ledger events after commit and escalates invariant
// violations. Publishing is best-effort; a nil publisher only logs.
type notifier struct {
	publisher ports.EventPublisher
	log       zerolog.Logger
}

func (n notifier) publish(ctx context.Context, eventType domain.LedgerEventType, rec *domain.TransactionRecord) {
	if n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(ctx, domain.NewLedgerEvent(eventType, rec)); err != nil {
		n.log.Warn().Err(err).
			Str("event", string(eventType)).
			Int64("tx_id", rec.ID).
			Msg("failed to publish ledger event")
	}
}

// invariant logs the violation for operators, pushes it to the alert stream
// and returns the error the caller must abort with.
func (n notifier) invariant(ctx context.Context, alert domain.InvariantAlert, cause error) error {
	alert.Detail = cause.Error()
	alert.RaisedAt = time.Now().UTC()

	n.log.Error().
		Bool("alert", true).
		Err(cause).
		Str("operation", alert.Operation).
		Int64("wallet_id", alert.WalletID).
		Int64("tx_id", alert.TransactionID).
		Str("token", alert.Token).
		Msg("ledger invariant violation")

	if n.publisher != nil {
		if err := n.publisher.Alert(ctx, alert); err != nil {
			n.log.Error().Err(err).Bool("alert", true).Msg("failed to publish invariant alert")
		}
	}
	return apperror.ErrInvariantViolation(cause)
}
