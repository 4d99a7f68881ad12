package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// UserService implements ports.UserService.
type UserService struct {
	users      ports.UserRepository
	custody    ports.CustodyService
	hashSvc    ports.HashService
	tokenSvc   ports.TokenService
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(
	users ports.UserRepository,
	custody ports.CustodyService,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *UserService {
	return &UserService{
		users:      users,
		custody:    custody,
		hashSvc:    hashSvc,
		tokenSvc:   tokenSvc,
		transactor: transactor,
		log:        log.With().Str("component", "user").Logger(),
	}
}

// Register creates the user together with its custodial wallet; either both
// exist afterwards or neither does.
func (s *UserService) Register(ctx context.Context, req ports.RegisterRequest) (*ports.RegisterResponse, error) {
	email := normalizeEmail(req.Email)

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check email: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrEmailExists()
	}

	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(req.Name),
		Status:       domain.UserStatusActive,
	}

	var wallet *domain.Wallet
	err = s.transactor.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.users.Create(ctx, tx, user); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return apperror.ErrEmailExists()
			}
			return fmt.Errorf("create user: %w", err)
		}
		var err error
		wallet, err = s.custody.CreateWalletTx(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, txError(err)
	}

	s.log.Info().Int64("user_id", user.ID).Int64("wallet_id", wallet.ID).Msg("user registered")
	return &ports.RegisterResponse{User: user, Wallet: wallet}, nil
}

// Login validates credentials and returns a JWT token.
func (s *UserService) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if err := s.verify(user, password); err != nil {
		return "", time.Time{}, err
	}
	if !user.IsActive() {
		return "", time.Time{}, apperror.ErrUserSuspended()
	}

	token, expiry, err := s.tokenSvc.Generate(user.ID, user.Email)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return token, expiry, nil
}

// ConfirmPassword re-checks the password of an authenticated user before a
// sensitive operation.
func (s *UserService) ConfirmPassword(ctx context.Context, userID int64, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return apperror.ErrInvalidCredentials()
	}
	if err := s.verify(user, password); err != nil {
		return err
	}
	if !user.IsActive() {
		return apperror.ErrUserSuspended()
	}
	return nil
}

func (s *UserService) verify(user *domain.User, password string) error {
	valid, err := s.hashSvc.Verify(password, user.PasswordHash)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return apperror.ErrInvalidCredentials()
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
