package service

import (
	"errors"

	"custody-ledger/internal/core/domain"
	"custody-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// txError converts an error escaping DBTransactor.InTx into an AppError.
// Anything unclassified is a storage failure.
func txError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return apperror.ErrConcurrencyConflict(err)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.ErrDatabaseError(err)
}

func validateAmount(amount decimal.Decimal) error {
	if domain.ValidateAmount(amount) != nil {
		return apperror.ErrInvalidAmount()
	}
	return nil
}

func normalizeToken(token string) (string, error) {
	t, err := domain.NormalizeToken(token)
	if err != nil {
		return "", apperror.Validation("token must be 1-16 letters or digits")
	}
	return t, nil
}

func strPtr(s string) *string { return &s }
