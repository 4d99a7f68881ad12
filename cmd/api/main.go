package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody-ledger/config"
	httpHandler "custody-ledger/internal/adapter/http/handler"
	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/adapter/secrets"
	"custody-ledger/internal/adapter/storage/memory"
	pgStorage "custody-ledger/internal/adapter/storage/postgres"
	redisStorage "custody-ledger/internal/adapter/storage/redis"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/service"
	"custody-ledger/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// repositories groups the storage ports for the selected driver.
type repositories struct {
	users      ports.UserRepository
	wallets    ports.WalletRepository
	balances   ports.BalanceRepository
	txs        ports.TransactionRepository
	idemp      ports.IdempotencyRepository
	audit      ports.AuditRepository
	transactor ports.DBTransactor
	health     ports.HealthChecker
	close      func()
}

func main() {
	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Ignoring unreadable .env file")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Msg("Starting custody ledger")

	ctx := context.Background()

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer repos.close()

	// The vault key must be readable and sound before any wallet is touched.
	provider, err := secrets.NewProvider(cfg.KMS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure key provider")
	}
	vault := service.NewKeyVault(provider, logger.WithComponent(log, "key_vault"))
	if err := vault.Verify(ctx); err != nil {
		log.Fatal().Err(err).Msg("Wallet encryption key unavailable")
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	publisher := redisStorage.NewEventPublisher(rdb, logger.WithComponent(log, "events"))

	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	accountant := service.NewBalanceAccountant(repos.balances, repos.transactor, publisher, logger.WithComponent(log, "accountant"))
	custody := service.NewCustodyService(
		repos.users,
		repos.wallets,
		repos.balances,
		repos.audit,
		vault,
		repos.transactor,
		cfg.Ledger.BaseAsset,
		logger.WithComponent(log, "custody"),
	)
	transfers := service.NewTransferEngine(
		repos.wallets,
		repos.balances,
		repos.txs,
		repos.idemp,
		idempotencyCache,
		accountant,
		repos.transactor,
		publisher,
		logger.WithComponent(log, "transfers"),
	)
	confirmations := service.NewConfirmationService(
		repos.wallets,
		repos.txs,
		accountant,
		repos.transactor,
		publisher,
		cfg.Confirmation.MinConfirmations,
		logger.WithComponent(log, "confirmations"),
	)
	userSvc := service.NewUserService(repos.users, custody, hashSvc, tokenSvc, repos.transactor, log)
	auditSvc := service.NewAuditService(repos.audit, log)

	if cfg.Feed.Secret == "" {
		log.Warn().Msg("Feed secret is empty, feed endpoints will reject every request")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		UserSvc:        userSvc,
		Custody:        custody,
		Accountant:     accountant,
		Transfers:      transfers,
		Confirm:        confirmations,
		History:        service.NewHistoryService(repos.txs),
		SigSvc:         sigSvc,
		NonceStore:     nonceStore,
		TokenSvc:       tokenSvc,
		FeedCreds:      middleware.FeedCredentials{ClientID: cfg.Feed.ClientID, Secret: cfg.Feed.Secret},
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{repos.health, redisStorage.NewHealthCheck(rdb)},
		AuditSvc:       auditSvc,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage, balances are lost on restart")
		store := memory.NewStore()
		return &repositories{
			users:      memory.NewUserRepo(store),
			wallets:    memory.NewWalletRepo(store),
			balances:   memory.NewBalanceRepo(store),
			txs:        memory.NewTransactionRepo(store),
			idemp:      memory.NewIdempotencyRepo(store),
			audit:      memory.NewAuditRepo(store),
			transactor: memory.NewTransactor(store),
			health:     memory.NewHealthCheck(),
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &repositories{
		users:      pgStorage.NewUserRepo(pool),
		wallets:    pgStorage.NewWalletRepo(pool),
		balances:   pgStorage.NewBalanceRepo(pool),
		txs:        pgStorage.NewTransactionRepo(pool),
		idemp:      pgStorage.NewIdempotencyRepo(pool),
		audit:      pgStorage.NewAuditRepo(pool),
		transactor: pgStorage.NewTransactor(pool, cfg.Ledger.MaxTxAttempts, logger.WithComponent(log, "transactor")),
		health:     pgStorage.NewHealthCheck(pool),
		close:      pool.Close,
	}, nil
}
