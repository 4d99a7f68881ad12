package ports

import (
	"context"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SecretProvider supplies the 32-byte wallet encryption key at call time.
// Implementations front an external secret manager; the key is never
// generated locally.
type SecretProvider interface {
	Key(ctx context.Context) ([]byte, error)
}

// KeyVault generates wallet keypairs and seals their secret keys.
type KeyVault interface {
	// GenerateKeypair returns the base58 public address and the raw secret key.
	GenerateKeypair() (address string, secret []byte, err error)
	Encrypt(ctx context.Context, secret []byte) (string, error)
	Decrypt(ctx context.Context, blob string) ([]byte, error)
	// Verify checks that the secret provider can supply a usable key.
	Verify(ctx context.Context) error
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID int64, email string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID int64
	Email  string
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, clientID string, nonce string, ttl time.Duration) (bool, error)
}

// EventPublisher fans ledger notifications and operator alerts out to consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
	Alert(ctx context.Context, alert domain.InvariantAlert) error
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// BalanceAccountant is the only component that mutates available/locked.
// The plain methods run in their own transaction; the Tx methods join the
// caller's transaction.
type BalanceAccountant interface {
	GetAvailable(ctx context.Context, walletID int64, token string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, walletID int64, token string) (*domain.Balance, error)
	GetAllBalances(ctx context.Context, walletID int64) (map[string]decimal.Decimal, error)
	Reserve(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error
	Release(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error
	Settle(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error
	Credit(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error
	Debit(ctx context.Context, walletID int64, token string, amount decimal.Decimal) error
	ReserveTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error
	SettleTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error
	CreditTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error
	DebitTx(ctx context.Context, tx pgx.Tx, walletID int64, token string, amount decimal.Decimal) error
}

// CustodyService owns the wallet lifecycle. It never returns decrypted
// secrets except through the audited ExportSecret.
type CustodyService interface {
	CreateWallet(ctx context.Context, userID int64) (*domain.Wallet, error)
	CreateWalletTx(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Wallet, error)
	EnsureProvisioned(ctx context.Context, userID int64) (*domain.Wallet, error)
	GetWalletByUser(ctx context.Context, userID int64) (*domain.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	GetWalletByID(ctx context.Context, walletID int64) (*domain.Wallet, error)
	ExportSecret(ctx context.Context, req ExportSecretRequest) ([]byte, error)
}

// ExportSecretRequest identifies who is exporting which wallet secret and why.
type ExportSecretRequest struct {
	UserID    int64
	Reason    string
	IPAddress string
}

// TransferService moves funds between wallets and reserves withdrawals.
type TransferService interface {
	InternalTransfer(ctx context.Context, req InternalTransferRequest) (*domain.TransactionRecord, error)
	RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.TransactionRecord, error)
	CancelWithdrawal(ctx context.Context, userID, transactionID int64) (*domain.TransactionRecord, error)
}

// InternalTransferRequest holds validated input for an off-chain transfer.
// Exactly one of ToUserID and ToAddress identifies the destination.
type InternalTransferRequest struct {
	FromUserID int64
	ToUserID   int64
	ToAddress  string
	Token      string
	Amount     decimal.Decimal
	Metadata   map[string]any
}

// WithdrawalRequest holds validated input for an on-chain withdrawal.
type WithdrawalRequest struct {
	UserID      int64
	Token       string
	Amount      decimal.Decimal
	ToAddress   string
	ReferenceID string // optional client idempotency reference
	Metadata    map[string]any
}

// ConfirmationOutcome is what the on-chain feed observed for a withdrawal.
type ConfirmationOutcome string

const (
	OutcomeObserved  ConfirmationOutcome = "OBSERVED"
	OutcomeConfirmed ConfirmationOutcome = "CONFIRMED"
	OutcomeFailed    ConfirmationOutcome = "FAILED"
)

// ConfirmationEvent is delivered by the external broadcaster.
type ConfirmationEvent struct {
	TransactionID         int64
	ObservedConfirmations int
	Outcome               ConfirmationOutcome
	TxHash                string
	ErrorDetail           string
}

// DepositEvent is delivered when an inbound on-chain transfer is final.
type DepositEvent struct {
	ToAddress   string
	FromAddress string
	Token       string
	Amount      decimal.Decimal
	TxHash      string
	Slot        uint64
}

// ConfirmationService is the entry point for the on-chain feed.
type ConfirmationService interface {
	HandleConfirmation(ctx context.Context, event ConfirmationEvent) (*domain.TransactionRecord, error)
	RecordDeposit(ctx context.Context, event DepositEvent) (*domain.TransactionRecord, error)
}

// UserService defines registration and authentication.
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, email, password string) (string, time.Time, error) // token, expiry, error
	ConfirmPassword(ctx context.Context, userID int64, password string) error
}

// RegisterRequest holds input for user registration.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
}

// RegisterResponse holds the created user and wallet.
type RegisterResponse struct {
	User   *domain.User
	Wallet *domain.Wallet
}

// HistoryService serves read-only transaction history.
type HistoryService interface {
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.TransactionRecord, int64, error)
	GetTransaction(ctx context.Context, userID, transactionID int64) (*domain.TransactionRecord, error)
}
