package postgres

import (
	"context"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet() *domain.Wallet {
	return &domain.Wallet{
		ID:                 11,
		UserID:             7,
		Address:            "7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5",
		EncryptedSecret:    "a1b2c3d4",
		Kind:               domain.WalletKindUser,
		ProvisioningStatus: domain.ProvisioningReady,
		CreatedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
}

func walletCols() []string {
	return []string{"id", "user_id", "address", "encrypted_secret", "wallet_kind", "provisioning_status", "created_at"}
}

func walletRow(w *domain.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows(walletCols()).AddRow(
		w.ID, w.UserID, w.Address, w.EncryptedSecret,
		w.Kind, w.ProvisioningStatus, w.CreatedAt,
	)
}

func TestWalletRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet()
	w.ID = 0

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs(w.UserID, w.Address, w.EncryptedSecret, w.Kind, w.ProvisioningStatus).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), w.CreatedAt))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), tx, w))
	assert.Equal(t, int64(11), w.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Create_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs(w.UserID, w.Address, w.EncryptedSecret, w.Kind, w.ProvisioningStatus).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wallets_user_id_key"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, w)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Lookups(t *testing.T) {
	w := newTestWallet()

	tests := []struct {
		name  string
		query string
		arg   any
		call  func(r *WalletRepo) (*domain.Wallet, error)
	}{
		{"by id", "SELECT .+ FROM wallets WHERE id", w.ID, func(r *WalletRepo) (*domain.Wallet, error) {
			return r.GetByID(context.Background(), w.ID)
		}},
		{"by user", "SELECT .+ FROM wallets WHERE user_id", w.UserID, func(r *WalletRepo) (*domain.Wallet, error) {
			return r.GetByUserID(context.Background(), w.UserID)
		}},
		{"by address", "SELECT .+ FROM wallets WHERE address", w.Address, func(r *WalletRepo) (*domain.Wallet, error) {
			return r.GetByAddress(context.Background(), w.Address)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectQuery(tt.query).WithArgs(tt.arg).WillReturnRows(walletRow(w))

			got, err := tt.call(NewWalletRepo(mock))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, w.Address, got.Address)
			assert.Equal(t, domain.ProvisioningReady, got.ProvisioningStatus)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWalletRepo_GetByAddress_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE address").
		WithArgs("unknown").
		WillReturnRows(pgxmock.NewRows(walletCols()))

	got, err := NewWalletRepo(mock).GetByAddress(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_MarkReady(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallets SET provisioning_status").
		WithArgs(domain.ProvisioningReady, int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE wallets SET provisioning_status").
		WithArgs(domain.ProvisioningReady, int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.MarkReady(context.Background(), tx, 11))
	err = repo.MarkReady(context.Background(), tx, 99)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "wallet not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
