package memory

import (
	"context"
	"fmt"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	store *Store
}

func NewUserRepo(s *Store) *UserRepo { return &UserRepo{store: s} }

func (r *UserRepo) Create(ctx context.Context, tx pgx.Tx, u *domain.User) error {
	t, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("insert user: %w", domain.ErrDuplicate)
		}
	}
	s.seqUser++
	now := s.now()
	u.ID, u.CreatedAt, u.UpdatedAt = s.seqUser, now, now

	stored := *u
	s.users[u.ID] = &stored
	t.record(func() { delete(s.users, stored.ID) })
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if u, ok := r.store.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

func NewWalletRepo(s *Store) *WalletRepo { return &WalletRepo{store: s} }

func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	t, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	if _, ok := s.users[w.UserID]; !ok {
		return fmt.Errorf("insert wallet: user %d does not exist", w.UserID)
	}
	for _, existing := range s.wallets {
		if existing.UserID == w.UserID || existing.Address == w.Address {
			return fmt.Errorf("insert wallet: %w", domain.ErrDuplicate)
		}
	}
	s.seqWallet++
	w.ID, w.CreatedAt = s.seqWallet, s.now()

	stored := *w
	s.wallets[w.ID] = &stored
	t.record(func() { delete(s.wallets, stored.ID) })
	return nil
}

func (r *WalletRepo) GetByID(ctx context.Context, id int64) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.find(func(w *domain.Wallet) bool { return w.ID == id }), nil
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID int64) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.find(func(w *domain.Wallet) bool { return w.UserID == userID }), nil
}

func (r *WalletRepo) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.find(func(w *domain.Wallet) bool { return w.Address == address }), nil
}

func (r *WalletRepo) MarkReady(ctx context.Context, tx pgx.Tx, walletID int64) error {
	t, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	w, ok := r.store.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet not found: %d", walletID)
	}
	prev := w.ProvisioningStatus
	w.ProvisioningStatus = domain.ProvisioningReady
	t.record(func() { w.ProvisioningStatus = prev })
	return nil
}

// find must be called with the store mutex held.
func (r *WalletRepo) find(match func(*domain.Wallet) bool) *domain.Wallet {
	for _, w := range r.store.wallets {
		if match(w) {
			cp := *w
			return &cp
		}
	}
	return nil
}

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	store *Store
}

func NewIdempotencyRepo(s *Store) *IdempotencyRepo { return &IdempotencyRepo{store: s} }

func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	t, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	if _, ok := s.idempotency[log.Key]; ok {
		return fmt.Errorf("insert idempotency log: %w", domain.ErrDuplicate)
	}
	stored := *log
	s.idempotency[log.Key] = &stored
	t.record(func() { delete(s.idempotency, stored.Key) })
	return nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if l, ok := r.store.idempotency[key]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	store *Store
}

func NewAuditRepo(s *Store) *AuditRepo { return &AuditRepo{store: s} }

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audit = append(r.store.audit, *log)
	return nil
}

// Entries returns a copy of every audit entry in insertion order.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.AuditLog, len(r.store.audit))
	copy(out, r.store.audit)
	return out
}
