package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// AmountScale is the number of fractional digits stored per amount.
	AmountScale = 18
	// AmountIntegerDigits bounds the integer part of any amount.
	AmountIntegerDigits = 18

	maxTokenLength = 16
)

var amountCeiling = decimal.New(1, AmountIntegerDigits)

// Balance is the per-token ledger position of a wallet.
// Available is spendable; Locked is reserved for in-flight withdrawals.
type Balance struct {
	ID        int64           `json:"id"`
	WalletID  int64           `json:"wallet_id"`
	Token     string          `json:"token"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns available + locked.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// ValidateAmount checks that an amount can be applied to a balance:
// strictly positive, at most 18 fractional digits and below 10^18.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: more than %d fractional digits", ErrInvalidAmount, AmountScale)
	}
	if amount.GreaterThanOrEqual(amountCeiling) {
		return fmt.Errorf("%w: more than %d integer digits", ErrInvalidAmount, AmountIntegerDigits)
	}
	return nil
}

// ParseAmount parses a decimal string and validates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// NormalizeToken upper-cases and validates a token symbol such as "SOL".
func NormalizeToken(token string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(token))
	if t == "" || len(t) > maxTokenLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	for _, r := range t {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
	}
	return t, nil
}
