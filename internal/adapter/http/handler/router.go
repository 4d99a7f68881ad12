package handler

import (
	"custody-ledger/internal/adapter/http/middleware"
	redisStore "custody-ledger/internal/adapter/storage/redis"
	"custody-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	UserSvc        ports.UserService
	Custody        ports.CustodyService
	Accountant     ports.BalanceAccountant
	Transfers      ports.TransferService
	Confirm        ports.ConfirmationService
	History        ports.HistoryService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	FeedCreds      middleware.FeedCredentials
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes ---
	authHandler := NewAuthHandler(deps.UserSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	walletHandler := NewWalletHandler(deps.Custody, deps.Accountant, deps.UserSvc)
	wallets := v1.Group("/wallets/me", jwtAuth)
	{
		wallets.GET("", rl("wallet_read"), walletHandler.GetWallet)
		wallets.GET("/balances", rl("wallet_read"), walletHandler.ListBalances)
		wallets.GET("/balances/:token", rl("wallet_read"), walletHandler.GetBalance)
		wallets.POST("/export", rl("wallet_export"), walletHandler.ExportSecret)
	}

	transferHandler := NewTransferHandler(deps.Transfers)
	v1.POST("/transfers", jwtAuth, rl("transfers"), transferHandler.InternalTransfer)
	withdrawals := v1.Group("/withdrawals", jwtAuth)
	{
		withdrawals.POST("", rl("withdrawals"), transferHandler.RequestWithdrawal)
		withdrawals.POST("/:id/cancel", rl("withdrawals"), transferHandler.CancelWithdrawal)
	}

	historyHandler := NewHistoryHandler(deps.History)
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", rl("wallet_read"), historyHandler.ListTransactions)
		transactions.GET("/:id", rl("wallet_read"), historyHandler.GetTransaction)
	}

	// --- Signed feed from the chain watcher ---
	feedAuth := middleware.FeedAuth(deps.FeedCreds, deps.SigSvc, deps.NonceStore, deps.Logger)
	feedHandler := NewFeedHandler(deps.Confirm)
	feed := v1.Group("/feed", feedAuth)
	{
		feed.POST("/confirmations", rl("feed"), feedHandler.Confirmation)
		feed.POST("/deposits", rl("feed"), feedHandler.Deposit)
	}

	return r
}
