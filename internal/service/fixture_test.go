package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"custody-ledger/internal/adapter/secrets"
	"custody-ledger/internal/adapter/storage/memory"
	redisstore "custody-ledger/internal/adapter/storage/redis"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBaseAsset        = "SOL"
	testMinConfirmations = 3
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "expected *apperror.AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code, "error: %v", err)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// externalAddress returns a valid address that no custodial wallet owns.
func externalAddress(t *testing.T) string {
	t.Helper()
	priv, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return priv.PublicKey().String()
}

// recordingPublisher keeps every event and alert in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
	alerts []domain.InvariantAlert
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Alert(ctx context.Context, alert domain.InvariantAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *recordingPublisher) Events() []domain.LedgerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LedgerEvent(nil), p.events...)
}

func (p *recordingPublisher) Alerts() []domain.InvariantAlert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.InvariantAlert(nil), p.alerts...)
}

func (p *recordingPublisher) eventTypes() []domain.LedgerEventType {
	var out []domain.LedgerEventType
	for _, e := range p.Events() {
		out = append(out, e.Type)
	}
	return out
}

// ledgerFixture wires every service against the memory store.
type ledgerFixture struct {
	store      *memory.Store
	users      *memory.UserRepo
	wallets    *memory.WalletRepo
	balances   *memory.BalanceRepo
	txs        *memory.TransactionRepo
	idemp      *memory.IdempotencyRepo
	audit      *memory.AuditRepo
	transactor *memory.Transactor
	redis      *miniredis.Miniredis
	cache      *redisstore.IdempotencyCache
	publisher  *recordingPublisher

	vault      *KeyVault
	accountant *BalanceAccountant
	custody    *CustodyService
	engine     *TransferEngine
	confirm    *ConfirmationService
	userSvc    *UserService
	history    ports.HistoryService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	store := memory.NewStore()
	f := &ledgerFixture{
		store:      store,
		users:      memory.NewUserRepo(store),
		wallets:    memory.NewWalletRepo(store),
		balances:   memory.NewBalanceRepo(store),
		txs:        memory.NewTransactionRepo(store),
		idemp:      memory.NewIdempotencyRepo(store),
		audit:      memory.NewAuditRepo(store),
		transactor: memory.NewTransactor(store),
		redis:      miniredis.RunT(t),
		publisher:  &recordingPublisher{},
	}

	client := goredis.NewClient(&goredis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.cache = redisstore.NewIdempotencyCache(client)

	provider, err := secrets.NewStaticProvider(testVaultKey)
	require.NoError(t, err)

	log := newTestLogger()
	f.vault = NewKeyVault(provider, log)
	f.accountant = NewBalanceAccountant(f.balances, f.transactor, f.publisher, log)
	f.custody = NewCustodyService(f.users, f.wallets, f.balances, f.audit, f.vault, f.transactor, testBaseAsset, log)
	f.engine = NewTransferEngine(f.wallets, f.balances, f.txs, f.idemp, f.cache, f.accountant, f.transactor, f.publisher, log)
	f.confirm = NewConfirmationService(f.wallets, f.txs, f.accountant, f.transactor, f.publisher, testMinConfirmations, log)
	f.userSvc = NewUserService(
		f.users, f.custody,
		NewArgon2HashServiceWithParams(testArgon2Params),
		NewJWTTokenService(testJWTSecret, time.Hour, "custody-ledger"),
		f.transactor, log,
	)
	f.history = NewHistoryService(f.txs)
	return f
}

// register creates a user with a provisioned wallet.
func (f *ledgerFixture) register(t *testing.T, email string) (*domain.User, *domain.Wallet) {
	t.Helper()
	resp, err := f.userSvc.Register(context.Background(), ports.RegisterRequest{
		Email:    email,
		Password: "correct horse battery",
		Name:     "Test User",
	})
	require.NoError(t, err)
	return resp.User, resp.Wallet
}

func (f *ledgerFixture) fund(t *testing.T, walletID int64, token, amount string) {
	t.Helper()
	require.NoError(t, f.accountant.Credit(context.Background(), walletID, token, dec(amount)))
}

func (f *ledgerFixture) balance(t *testing.T, walletID int64, token string) *domain.Balance {
	t.Helper()
	b, err := f.accountant.GetBalance(context.Background(), walletID, token)
	require.NoError(t, err)
	return b
}

// assertBalance compares available and locked as decimals.
func (f *ledgerFixture) assertBalance(t *testing.T, walletID int64, token, available, locked string) {
	t.Helper()
	b := f.balance(t, walletID, token)
	assert.True(t, dec(available).Equal(b.Available), "available: want %s, got %s", available, b.Available)
	assert.True(t, dec(locked).Equal(b.Locked), "locked: want %s, got %s", locked, b.Locked)
}

func (f *ledgerFixture) withdraw(t *testing.T, userID int64, amount string) *domain.TransactionRecord {
	t.Helper()
	rec, err := f.engine.RequestWithdrawal(context.Background(), ports.WithdrawalRequest{
		UserID:    userID,
		Token:     testBaseAsset,
		Amount:    dec(amount),
		ToAddress: externalAddress(t),
	})
	require.NoError(t, err)
	return rec
}

func (f *ledgerFixture) recordCount(t *testing.T, userID int64) int64 {
	t.Helper()
	_, total, err := f.txs.ListByUser(context.Background(), ports.TransactionListParams{UserID: userID, Page: 1, PageSize: 1})
	require.NoError(t, err)
	return total
}
