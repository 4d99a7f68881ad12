package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

const (
	CodeInsufficientFunds   = "LED_001"
	CodeInvalidAmount       = "LED_002"
	CodeNotFound            = "LED_003"
	CodeInvariantViolation  = "LED_004"
	CodeConcurrencyConflict = "LED_005"
	CodeInvalidTransition   = "LED_006"
	CodeInvalidAddress      = "LED_007"
	CodeWalletExists        = "LED_008"
	CodeValidation          = "LED_009"

	CodeKeyGeneration  = "CUS_001"
	CodeDecryption     = "CUS_002"
	CodeKeyUnavailable = "CUS_003"
)

// ---- Security & Authentication (SEC) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient available balance", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Amount must be positive with at most 18 integer and 18 fractional digits", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ErrInvariantViolation signals a ledger state that must never occur, such as
// a release larger than the locked amount. It is always escalated to operators.
func ErrInvariantViolation(err error) *AppError {
	return Wrap(CodeInvariantViolation, "Ledger invariant violation", http.StatusConflict, err)
}

func ErrConcurrencyConflict(err error) *AppError {
	return Wrap(CodeConcurrencyConflict, "Concurrent update conflict, retry the request", http.StatusConflict, err)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("Transaction cannot move from %s to %s", from, to), http.StatusConflict)
}

func ErrInvalidAddress() *AppError {
	return New(CodeInvalidAddress, "Invalid destination address", http.StatusBadRequest)
}

func ErrWalletExists() *AppError {
	return New(CodeWalletExists, "User already has a wallet", http.StatusConflict)
}

// ---- Custody (CUS) ----

func ErrKeyGeneration(err error) *AppError {
	return Wrap(CodeKeyGeneration, "Keypair generation failed", http.StatusInternalServerError, err)
}

// ErrDecryption is returned when a stored secret cannot be authenticated or
// decrypted with the current key. It is distinct from a missing wallet.
func ErrDecryption(err error) *AppError {
	return Wrap(CodeDecryption, "Secret decryption failed", http.StatusInternalServerError, err)
}

func ErrKeyUnavailable(err error) *AppError {
	return Wrap(CodeKeyUnavailable, "Encryption key unavailable", http.StatusServiceUnavailable, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrEmailExists() *AppError {
	return New("AUTH_002", "Email already registered", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrUserSuspended() *AppError {
	return New("AUTH_004", "User account is not active", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
