package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/core/ports/mocks"
	"custody-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type userTestSuite struct {
	ctrl     *gomock.Controller
	users    *mocks.MockUserRepository
	hashSvc  *mocks.MockHashService
	tokenSvc *mocks.MockTokenService
	svc      *UserService
}

func setupUserTest(t *testing.T) *userTestSuite {
	ctrl := gomock.NewController(t)
	s := &userTestSuite{
		ctrl:     ctrl,
		users:    mocks.NewMockUserRepository(ctrl),
		hashSvc:  mocks.NewMockHashService(ctrl),
		tokenSvc: mocks.NewMockTokenService(ctrl),
	}
	s.svc = NewUserService(s.users, nil, s.hashSvc, s.tokenSvc, nil, newTestLogger())
	return s
}

// ==================== Register ====================

func TestUserService_Register(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	resp, err := f.userSvc.Register(ctx, ports.RegisterRequest{
		Email:    "  New.User@Example.COM ",
		Password: "correct horse battery",
		Name:     " New User ",
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.User.ID)
	assert.Equal(t, "new.user@example.com", resp.User.Email)
	assert.Equal(t, "New User", resp.User.Name)
	assert.Equal(t, domain.UserStatusActive, resp.User.Status)
	assert.NotEqual(t, "correct horse battery", resp.User.PasswordHash)
	assert.Equal(t, resp.User.ID, resp.Wallet.UserID)
	assert.True(t, resp.Wallet.IsReady())

	w, err := f.wallets.GetByUserID(ctx, resp.User.ID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, resp.Wallet.Address, w.Address)

	f.assertBalance(t, w.ID, testBaseAsset, "0", "0")
}

func TestUserService_RegisterDuplicateEmail(t *testing.T) {
	f := newLedgerFixture(t)
	f.register(t, "dup@example.com")

	_, err := f.userSvc.Register(context.Background(), ports.RegisterRequest{
		Email:    "DUP@example.com",
		Password: "another password",
		Name:     "Dup",
	})
	assertAppError(t, err, "AUTH_002")
}

func TestUserService_RegisterRollsBackWhenWalletFails(t *testing.T) {
	f := newLedgerFixture(t)
	ctrl := gomock.NewController(t)
	vault := mocks.NewMockKeyVault(ctrl)
	vault.EXPECT().GenerateKeypair().Return("", nil, apperror.ErrKeyGeneration(errors.New("entropy exhausted")))

	custody := NewCustodyService(f.users, f.wallets, f.balances, f.audit, vault, f.transactor, testBaseAsset, newTestLogger())
	svc := NewUserService(f.users, custody, NewArgon2HashServiceWithParams(testArgon2Params), nil, f.transactor, newTestLogger())

	_, err := svc.Register(context.Background(), ports.RegisterRequest{Email: "orphan@example.com", Password: "pw", Name: "Orphan"})
	assertAppError(t, err, apperror.CodeKeyGeneration)

	u, err := f.users.GetByEmail(context.Background(), "orphan@example.com")
	require.NoError(t, err)
	assert.Nil(t, u, "user row must not outlive a failed wallet")
}

// ==================== Login ====================

func TestUserService_Login(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	user := &domain.User{ID: 7, Email: "a@b.com", PasswordHash: "hash", Status: domain.UserStatusActive}

	tests := []struct {
		name   string
		email  string
		expect func(s *userTestSuite)
		code   string
	}{
		{
			name:  "success",
			email: " A@B.com",
			expect: func(s *userTestSuite) {
				s.users.EXPECT().GetByEmail(gomock.Any(), "a@b.com").Return(user, nil)
				s.hashSvc.EXPECT().Verify("pw", "hash").Return(true, nil)
				s.tokenSvc.EXPECT().Generate(int64(7), "a@b.com").Return("jwt", expiry, nil)
			},
		},
		{
			name:  "unknown email",
			email: "nobody@b.com",
			expect: func(s *userTestSuite) {
				s.users.EXPECT().GetByEmail(gomock.Any(), "nobody@b.com").Return(nil, nil)
			},
			code: "AUTH_001",
		},
		{
			name:  "wrong password",
			email: "a@b.com",
			expect: func(s *userTestSuite) {
				s.users.EXPECT().GetByEmail(gomock.Any(), "a@b.com").Return(user, nil)
				s.hashSvc.EXPECT().Verify("pw", "hash").Return(false, nil)
			},
			code: "AUTH_001",
		},
		{
			name:  "suspended",
			email: "a@b.com",
			expect: func(s *userTestSuite) {
				suspended := *user
				suspended.Status = domain.UserStatusSuspended
				s.users.EXPECT().GetByEmail(gomock.Any(), "a@b.com").Return(&suspended, nil)
				s.hashSvc.EXPECT().Verify("pw", "hash").Return(true, nil)
			},
			code: "AUTH_004",
		},
		{
			name:  "repository error",
			email: "a@b.com",
			expect: func(s *userTestSuite) {
				s.users.EXPECT().GetByEmail(gomock.Any(), "a@b.com").Return(nil, errors.New("db down"))
			},
			code: "SYS_001",
		},
		{
			name:  "token error",
			email: "a@b.com",
			expect: func(s *userTestSuite) {
				s.users.EXPECT().GetByEmail(gomock.Any(), "a@b.com").Return(user, nil)
				s.hashSvc.EXPECT().Verify("pw", "hash").Return(true, nil)
				s.tokenSvc.EXPECT().Generate(int64(7), "a@b.com").Return("", time.Time{}, errors.New("signing failed"))
			},
			code: "SYS_001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupUserTest(t)
			tt.expect(s)

			token, exp, err := s.svc.Login(context.Background(), tt.email, "pw")
			if tt.code != "" {
				assertAppError(t, err, tt.code)
				assert.Empty(t, token)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "jwt", token)
			assert.Equal(t, expiry, exp)
		})
	}
}

func TestUserService_LoginWithRealToken(t *testing.T) {
	f := newLedgerFixture(t)
	u, _ := f.register(t, "real@example.com")

	token, exp, err := f.userSvc.Login(context.Background(), "real@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := NewJWTTokenService(testJWTSecret, time.Hour, "custody-ledger").Validate(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "real@example.com", claims.Email)
}

// ==================== ConfirmPassword ====================

func TestUserService_ConfirmPassword(t *testing.T) {
	user := &domain.User{ID: 7, Email: "a@b.com", PasswordHash: "hash", Status: domain.UserStatusActive}

	t.Run("match", func(t *testing.T) {
		s := setupUserTest(t)
		s.users.EXPECT().GetByID(gomock.Any(), int64(7)).Return(user, nil)
		s.hashSvc.EXPECT().Verify("pw", "hash").Return(true, nil)
		assert.NoError(t, s.svc.ConfirmPassword(context.Background(), 7, "pw"))
	})

	t.Run("mismatch", func(t *testing.T) {
		s := setupUserTest(t)
		s.users.EXPECT().GetByID(gomock.Any(), int64(7)).Return(user, nil)
		s.hashSvc.EXPECT().Verify("bad", "hash").Return(false, nil)
		assertAppError(t, s.svc.ConfirmPassword(context.Background(), 7, "bad"), "AUTH_001")
	})

	t.Run("unknown user", func(t *testing.T) {
		s := setupUserTest(t)
		s.users.EXPECT().GetByID(gomock.Any(), int64(8)).Return(nil, nil)
		assertAppError(t, s.svc.ConfirmPassword(context.Background(), 8, "pw"), "AUTH_001")
	})

	t.Run("malformed stored hash", func(t *testing.T) {
		s := setupUserTest(t)
		s.users.EXPECT().GetByID(gomock.Any(), int64(7)).Return(user, nil)
		s.hashSvc.EXPECT().Verify("pw", "hash").Return(false, errors.New("malformed"))
		assertAppError(t, s.svc.ConfirmPassword(context.Background(), 7, "pw"), "SYS_001")
	})
}
