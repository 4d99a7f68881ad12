package memory

import (
	"context"
	"fmt"
	"sort"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	store *Store
}

func NewTransactionRepo(s *Store) *TransactionRepo { return &TransactionRepo{store: s} }

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.TransactionRecord) error {
	t, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	if !rec.Amount.IsPositive() || rec.Fee.IsNegative() {
		return fmt.Errorf("insert transaction: %w", domain.ErrInvalidAmount)
	}
	if _, ok := s.wallets[rec.WalletID]; !ok {
		return fmt.Errorf("insert transaction: wallet %d does not exist", rec.WalletID)
	}
	for _, existing := range s.transactions {
		if rec.TxHash != nil && existing.TxHash != nil && *existing.TxHash == *rec.TxHash {
			return fmt.Errorf("insert transaction: %w", domain.ErrDuplicate)
		}
		if rec.ReferenceID != nil && existing.ReferenceID != nil &&
			existing.UserID == rec.UserID && *existing.ReferenceID == *rec.ReferenceID {
			return fmt.Errorf("insert transaction: %w", domain.ErrDuplicate)
		}
	}

	s.seqTx++
	now := s.now()
	rec.ID, rec.CreatedAt, rec.UpdatedAt = s.seqTx, now, now

	stored := cloneRecord(rec)
	s.transactions[rec.ID] = stored
	t.record(func() { delete(s.transactions, stored.ID) })
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id int64) (*domain.TransactionRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rec, ok := r.store.transactions[id]; ok {
		return cloneRecord(rec), nil
	}
	return nil, nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.TransactionRecord, error) {
	if _, err := r.store.asTx(tx); err != nil {
		return nil, err
	}
	if rec, ok := r.store.transactions[id]; ok {
		return cloneRecord(rec), nil
	}
	return nil, nil
}

func (r *TransactionRepo) GetByHash(ctx context.Context, txHash string) (*domain.TransactionRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rec := range r.store.transactions {
		if rec.TxHash != nil && *rec.TxHash == txHash {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, u ports.StatusUpdate) error {
	t, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	rec, ok := s.transactions[u.ID]
	if !ok {
		return fmt.Errorf("transaction not found: %d", u.ID)
	}
	if u.TxHash != nil {
		for id, other := range s.transactions {
			if id != u.ID && other.TxHash != nil && *other.TxHash == *u.TxHash {
				return fmt.Errorf("update transaction status: %w", domain.ErrDuplicate)
			}
		}
	}

	prev := *rec
	rec.Status = u.Status
	rec.ConfirmationCount = u.ConfirmationCount
	rec.ErrorDetail = u.ErrorDetail
	if u.TxHash != nil {
		rec.TxHash = u.TxHash
	}
	rec.UpdatedAt = s.now()
	t.record(func() { *rec = prev })
	return nil
}

func (r *TransactionRepo) ListByUser(ctx context.Context, params ports.TransactionListParams) ([]domain.TransactionRecord, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var matched []*domain.TransactionRecord
	for _, rec := range r.store.transactions {
		if rec.UserID != params.UserID {
			continue
		}
		if params.Status != nil && rec.Status != *params.Status {
			continue
		}
		if params.Kind != nil && rec.Kind != *params.Kind {
			continue
		}
		if params.Token != nil && rec.Token != *params.Token {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start < 0 || start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]domain.TransactionRecord, 0, end-start)
	for _, rec := range matched[start:end] {
		page = append(page, *cloneRecord(rec))
	}
	return page, total, nil
}

func cloneRecord(rec *domain.TransactionRecord) *domain.TransactionRecord {
	cp := *rec
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
