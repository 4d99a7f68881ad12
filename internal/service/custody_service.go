package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// CustodyService implements ports.CustodyService.
type CustodyService struct {
	users      ports.UserRepository
	wallets    ports.WalletRepository
	balances   ports.BalanceRepository
	auditRepo  ports.AuditRepository
	vault      ports.KeyVault
	transactor ports.DBTransactor
	baseAsset  string
	log        zerolog.Logger
}

// NewCustodyService creates a new CustodyService. baseAsset is the token
// every new wallet gets a zero balance row for.
func NewCustodyService(
	users ports.UserRepository,
	wallets ports.WalletRepository,
	balances ports.BalanceRepository,
	auditRepo ports.AuditRepository,
	vault ports.KeyVault,
	transactor ports.DBTransactor,
	baseAsset string,
	log zerolog.Logger,
) *CustodyService {
	return &CustodyService{
		users:      users,
		wallets:    wallets,
		balances:   balances,
		auditRepo:  auditRepo,
		vault:      vault,
		transactor: transactor,
		baseAsset:  baseAsset,
		log:        log.With().Str("component", "custody").Logger(),
	}
}

// CreateWallet provisions a wallet for an existing user. Keypair generation
// and encryption happen before any write; the wallet row and its base
// balance commit together.
func (s *CustodyService) CreateWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}
	existing, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrWalletExists()
	}

	wallet, err := s.sealNewWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	err = s.transactor.InTx(ctx, func(tx pgx.Tx) error {
		return s.insertWallet(ctx, tx, wallet)
	})
	if err != nil {
		return nil, txError(err)
	}

	s.log.Info().Int64("user_id", userID).Int64("wallet_id", wallet.ID).Str("address", wallet.Address).Msg("wallet created")
	return wallet, nil
}

// CreateWalletTx provisions a wallet inside the caller's transaction.
func (s *CustodyService) CreateWalletTx(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Wallet, error) {
	wallet, err := s.sealNewWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.insertWallet(ctx, tx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// EnsureProvisioned completes a wallet left INCOMPLETE, or creates one if the
// user has none. Calling it on a READY wallet is a no-op.
func (s *CustodyService) EnsureProvisioned(ctx context.Context, userID int64) (*domain.Wallet, error) {
	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return s.CreateWallet(ctx, userID)
	}
	if wallet.IsReady() {
		return wallet, nil
	}

	err = s.transactor.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.balances.Ensure(ctx, tx, wallet.ID, s.baseAsset); err != nil {
			return fmt.Errorf("seed base balance: %w", err)
		}
		return s.wallets.MarkReady(ctx, tx, wallet.ID)
	})
	if err != nil {
		return nil, txError(err)
	}

	wallet.ProvisioningStatus = domain.ProvisioningReady
	s.log.Info().Int64("user_id", userID).Int64("wallet_id", wallet.ID).Msg("wallet provisioning completed")
	return wallet, nil
}

func (s *CustodyService) GetWalletByUser(ctx context.Context, userID int64) (*domain.Wallet, error) {
	return s.found(s.wallets.GetByUserID(ctx, userID))
}

func (s *CustodyService) GetWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	return s.found(s.wallets.GetByAddress(ctx, address))
}

func (s *CustodyService) GetWalletByID(ctx context.Context, walletID int64) (*domain.Wallet, error) {
	return s.found(s.wallets.GetByID(ctx, walletID))
}

// ExportSecret decrypts the user's wallet secret. The audit entry is
// persisted first; if it cannot be written nothing is decrypted.
func (s *CustodyService) ExportSecret(ctx context.Context, req ports.ExportSecretRequest) ([]byte, error) {
	wallet, err := s.GetWalletByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	details, _ := json.Marshal(map[string]string{
		"address": wallet.Address,
		"reason":  req.Reason,
	})
	userID := req.UserID
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &userID,
		Action:       domain.AuditActionExportSecret,
		ResourceType: "wallet",
		ResourceID:   strconv.FormatInt(wallet.ID, 10),
		Details:      string(details),
		IPAddress:    req.IPAddress,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist export audit: %w", err))
	}

	secret, err := s.vault.Decrypt(ctx, wallet.EncryptedSecret)
	if err != nil {
		s.log.Error().Err(err).Int64("wallet_id", wallet.ID).Msg("wallet secret export failed")
		return nil, err
	}

	s.log.Warn().Int64("user_id", req.UserID).Int64("wallet_id", wallet.ID).Str("ip", req.IPAddress).Msg("wallet secret exported")
	return secret, nil
}

func (s *CustodyService) found(wallet *domain.Wallet, err error) (*domain.Wallet, error) {
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// sealNewWallet generates a keypair and encrypts its secret. The plaintext
// secret is zeroed before returning.
func (s *CustodyService) sealNewWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	address, secret, err := s.vault.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	defer clear(secret)

	sealed, err := s.vault.Encrypt(ctx, secret)
	if err != nil {
		return nil, err
	}

	return &domain.Wallet{
		UserID:             userID,
		Address:            address,
		EncryptedSecret:    sealed,
		Kind:               domain.WalletKindUser,
		ProvisioningStatus: domain.ProvisioningReady,
	}, nil
}

func (s *CustodyService) insertWallet(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error {
	if err := s.wallets.Create(ctx, tx, wallet); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return apperror.ErrWalletExists()
		}
		return apperror.InternalError(fmt.Errorf("create wallet: %w", err))
	}
	if err := s.balances.Ensure(ctx, tx, wallet.ID, s.baseAsset); err != nil {
		return apperror.InternalError(fmt.Errorf("seed base balance: %w", err))
	}
	return nil
}
