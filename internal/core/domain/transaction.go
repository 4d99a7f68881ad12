package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxKind represents the kind of balance movement.
type TxKind string

const (
	TxKindDeposit          TxKind = "DEPOSIT"
	TxKindWithdraw         TxKind = "WITHDRAW"
	TxKindInternalTransfer TxKind = "INTERNAL_TRANSFER"
	TxKindSwap             TxKind = "SWAP"
)

// TransactionStatus represents the lifecycle state of a transaction record.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusConfirming TransactionStatus = "CONFIRMING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
)

var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusConfirming,
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusCancelled,
	},
	TransactionStatusConfirming: {
		TransactionStatusConfirming,
		TransactionStatusCompleted,
		TransactionStatusFailed,
	},
}

// IsTerminal returns true if no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted ||
		s == TransactionStatusFailed ||
		s == TransactionStatusCancelled
}

// CanTransitionTo reports whether the state machine allows s -> next.
// CONFIRMING -> CONFIRMING is allowed so confirmation counts can advance.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransactionRecord is the ledger entry written for every balance movement.
// Only Status, ConfirmationCount, ErrorDetail, TxHash and UpdatedAt change
// after creation.
type TransactionRecord struct {
	ID                int64             `json:"id"`
	UserID            int64             `json:"user_id"`
	WalletID          int64             `json:"wallet_id"`
	Kind              TxKind            `json:"tx_kind"`
	TxHash            *string           `json:"tx_hash,omitempty"`
	ReferenceID       *string           `json:"reference_id,omitempty"`
	FromAddress       string            `json:"from_address"`
	ToAddress         string            `json:"to_address"`
	Token             string            `json:"token"`
	Amount            decimal.Decimal   `json:"amount"`
	Fee               decimal.Decimal   `json:"fee"`
	Status            TransactionStatus `json:"status"`
	ConfirmationCount int               `json:"confirmation_count"`
	ErrorDetail       *string           `json:"error_detail,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IsTerminal returns true if the record is in a final state.
func (t *TransactionRecord) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// ReservedAmount is what a withdrawal holds in the locked balance.
func (t *TransactionRecord) ReservedAmount() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}
