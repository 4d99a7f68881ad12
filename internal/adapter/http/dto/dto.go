package dto

import "custody-ledger/internal/core/domain"

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=128" sanitize:"-"`
	Name     string `json:"name" binding:"required,min=1,max=100"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required" sanitize:"-"`
}

// RegisterResponse is returned after a user and its wallet are created.
type RegisterResponse struct {
	UserID        int64  `json:"user_id"`
	Email         string `json:"email"`
	WalletID      int64  `json:"wallet_id"`
	WalletAddress string `json:"wallet_address"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// WalletResponse describes the caller's wallet. The sealed secret is never
// part of it.
type WalletResponse struct {
	ID                 int64  `json:"id"`
	Address            string `json:"address"`
	Kind               string `json:"kind"`
	ProvisioningStatus string `json:"provisioning_status"`
	CreatedAt          string `json:"created_at"`
}

// BalanceResponse is one token position. Amounts are decimal strings.
type BalanceResponse struct {
	Token     string `json:"token"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
}

// ExportSecretRequest asks for the wallet secret key.
type ExportSecretRequest struct {
	Password string `json:"password" binding:"required" sanitize:"-"`
	Reason   string `json:"reason" binding:"required,min=3,max=500"`
}

// ExportSecretResponse carries the base58 secret key.
type ExportSecretResponse struct {
	Address   string `json:"address"`
	SecretKey string `json:"secret_key"`
}

// TransferRequest is the body of an internal transfer. Exactly one of
// to_user_id and to_address must be set.
type TransferRequest struct {
	ToUserID  int64          `json:"to_user_id" binding:"required_without=ToAddress,excluded_with=ToAddress"`
	ToAddress string         `json:"to_address" binding:"omitempty,solana_address"`
	Token     string         `json:"token" binding:"required,token_symbol"`
	Amount    string         `json:"amount" binding:"required,decimal_amount"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WithdrawalRequest is the body of an on-chain withdrawal request.
type WithdrawalRequest struct {
	ToAddress   string         `json:"to_address" binding:"required,solana_address"`
	Token       string         `json:"token" binding:"required,token_symbol"`
	Amount      string         `json:"amount" binding:"required,decimal_amount"`
	ReferenceID string         `json:"reference_id" binding:"omitempty,max=100,safe_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ConfirmationRequest is pushed by the chain watcher for a withdrawal.
type ConfirmationRequest struct {
	TransactionID         int64  `json:"transaction_id" binding:"required,gt=0"`
	ObservedConfirmations int    `json:"observed_confirmations" binding:"gte=0"`
	Outcome               string `json:"outcome" binding:"required,oneof=OBSERVED CONFIRMED FAILED"`
	TxHash                string `json:"tx_hash" binding:"omitempty,max=128"`
	ErrorDetail           string `json:"error_detail" binding:"omitempty,max=500"`
}

// DepositRequest is pushed by the chain watcher for a final inbound transfer.
type DepositRequest struct {
	ToAddress   string `json:"to_address" binding:"required,solana_address"`
	FromAddress string `json:"from_address" binding:"omitempty,solana_address"`
	Token       string `json:"token" binding:"required,token_symbol"`
	Amount      string `json:"amount" binding:"required,decimal_amount"`
	TxHash      string `json:"tx_hash" binding:"required,max=128"`
	Slot        uint64 `json:"slot"`
}

// TransactionResponse is the public view of a ledger record.
type TransactionResponse struct {
	ID                int64          `json:"id"`
	Kind              string         `json:"tx_kind"`
	Status            string         `json:"status"`
	Token             string         `json:"token"`
	Amount            string         `json:"amount"`
	Fee               string         `json:"fee"`
	FromAddress       string         `json:"from_address"`
	ToAddress         string         `json:"to_address"`
	TxHash            *string        `json:"tx_hash,omitempty"`
	ReferenceID       *string        `json:"reference_id,omitempty"`
	ConfirmationCount int            `json:"confirmation_count"`
	ErrorDetail       *string        `json:"error_detail,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
}

// TransactionListQuery binds the history query string.
type TransactionListQuery struct {
	Page     int    `form:"page" binding:"omitempty,gte=1"`
	PageSize int    `form:"page_size" binding:"omitempty,gte=1,lte=100"`
	Status   string `form:"status" binding:"omitempty,oneof=PENDING CONFIRMING COMPLETED FAILED CANCELLED"`
	Kind     string `form:"tx_kind" binding:"omitempty,oneof=DEPOSIT WITHDRAW INTERNAL_TRANSFER SWAP"`
	Token    string `form:"token" binding:"omitempty,token_symbol"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// NewTransactionResponse converts a ledger record to its public view.
func NewTransactionResponse(rec *domain.TransactionRecord) TransactionResponse {
	return TransactionResponse{
		ID:                rec.ID,
		Kind:              string(rec.Kind),
		Status:            string(rec.Status),
		Token:             rec.Token,
		Amount:            rec.Amount.String(),
		Fee:               rec.Fee.String(),
		FromAddress:       rec.FromAddress,
		ToAddress:         rec.ToAddress,
		TxHash:            rec.TxHash,
		ReferenceID:       rec.ReferenceID,
		ConfirmationCount: rec.ConfirmationCount,
		ErrorDetail:       rec.ErrorDetail,
		Metadata:          rec.Metadata,
		CreatedAt:         rec.CreatedAt.Format(timeLayout),
		UpdatedAt:         rec.UpdatedAt.Format(timeLayout),
	}
}

// NewWalletResponse converts a wallet to its public view.
func NewWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:                 w.ID,
		Address:            w.Address,
		Kind:               string(w.Kind),
		ProvisioningStatus: string(w.ProvisioningStatus),
		CreatedAt:          w.CreatedAt.Format(timeLayout),
	}
}

// NewBalanceResponse converts a balance row to its public view.
func NewBalanceResponse(b *domain.Balance) BalanceResponse {
	return BalanceResponse{
		Token:     b.Token,
		Available: b.Available.String(),
		Locked:    b.Locked.String(),
		Total:     b.Total().String(),
	}
}
