package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEventType names a notification emitted after a committed movement.
type LedgerEventType string

const (
	EventDepositCredited     LedgerEventType = "deposit.credited"
	EventTransferCompleted   LedgerEventType = "transfer.completed"
	EventWithdrawalRequested LedgerEventType = "withdrawal.requested"
	EventWithdrawalCompleted LedgerEventType = "withdrawal.completed"
	EventWithdrawalFailed    LedgerEventType = "withdrawal.failed"
	EventWithdrawalCancelled LedgerEventType = "withdrawal.cancelled"
)

// LedgerEvent is published for downstream consumers (notifications, indexers).
type LedgerEvent struct {
	Type          LedgerEventType   `json:"type"`
	TransactionID int64             `json:"transaction_id"`
	UserID        int64             `json:"user_id"`
	WalletID      int64             `json:"wallet_id"`
	Token         string            `json:"token"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        TransactionStatus `json:"status"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewLedgerEvent builds the event describing a record's current state.
func NewLedgerEvent(eventType LedgerEventType, rec *TransactionRecord) LedgerEvent {
	return LedgerEvent{
		Type:          eventType,
		TransactionID: rec.ID,
		UserID:        rec.UserID,
		WalletID:      rec.WalletID,
		Token:         rec.Token,
		Amount:        rec.Amount,
		Status:        rec.Status,
		OccurredAt:    time.Now().UTC(),
	}
}

// InvariantAlert describes a ledger state that must be looked at by an operator.
type InvariantAlert struct {
	Operation     string    `json:"operation"`
	WalletID      int64     `json:"wallet_id,omitempty"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	Token         string    `json:"token,omitempty"`
	Detail        string    `json:"detail"`
	RaisedAt      time.Time `json:"raised_at"`
}
