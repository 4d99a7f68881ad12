package service

import (
	"context"
	"fmt"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// historyService implements ports.HistoryService.
type historyService struct {
	txRepo ports.TransactionRepository
}

// NewHistoryService creates a new history service.
func NewHistoryService(txRepo ports.TransactionRepository) ports.HistoryService {
	return &historyService{txRepo: txRepo}
}

// ListTransactions returns one page of the user's records, newest first.
func (s *historyService) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.TransactionRecord, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	if params.Token != nil {
		token, err := normalizeToken(*params.Token)
		if err != nil {
			return nil, 0, err
		}
		params.Token = &token
	}

	records, total, err := s.txRepo.ListByUser(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return records, total, nil
}

// GetTransaction returns a record owned by userID. Records of other users
// are reported as not found.
func (s *historyService) GetTransaction(ctx context.Context, userID, transactionID int64) (*domain.TransactionRecord, error) {
	rec, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if rec == nil || rec.UserID != userID {
		return nil, apperror.ErrNotFound("transaction")
	}
	return rec, nil
}
