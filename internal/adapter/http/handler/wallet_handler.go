package handler

import (
	"maps"
	"slices"

	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
)

// WalletHandler serves the caller's wallet, balances and secret export.
type WalletHandler struct {
	custody    ports.CustodyService
	accountant ports.BalanceAccountant
	userSvc    ports.UserService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(custody ports.CustodyService, accountant ports.BalanceAccountant, userSvc ports.UserService) *WalletHandler {
	return &WalletHandler{
		custody:    custody,
		accountant: accountant,
		userSvc:    userSvc,
	}
}

// GetWallet handles GET /api/v1/wallets/me.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	wallet, err := h.custody.GetWalletByUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewWalletResponse(wallet))
}

// ListBalances handles GET /api/v1/wallets/me/balances.
func (h *WalletHandler) ListBalances(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	wallet, err := h.custody.GetWalletByUser(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	all, err := h.accountant.GetAllBalances(ctx, wallet.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.BalanceResponse, 0, len(all))
	for _, token := range slices.Sorted(maps.Keys(all)) {
		b, err := h.accountant.GetBalance(ctx, wallet.ID, token)
		if err != nil {
			response.Error(c, err)
			return
		}
		items = append(items, dto.NewBalanceResponse(b))
	}
	response.OK(c, items)
}

// GetBalance handles GET /api/v1/wallets/me/balances/:token.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	wallet, err := h.custody.GetWalletByUser(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	b, err := h.accountant.GetBalance(ctx, wallet.ID, c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewBalanceResponse(b))
}

// ExportSecret handles POST /api/v1/wallets/me/export. The password is
// checked again even though the caller holds a valid token.
func (h *WalletHandler) ExportSecret(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.ExportSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	ctx := c.Request.Context()

	if err := h.userSvc.ConfirmPassword(ctx, userID, req.Password); err != nil {
		response.Error(c, err)
		return
	}

	wallet, err := h.custody.GetWalletByUser(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	secret, err := h.custody.ExportSecret(ctx, ports.ExportSecretRequest{
		UserID:    userID,
		Reason:    req.Reason,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	defer clear(secret)

	c.Header("Cache-Control", "no-store")
	response.OK(c, dto.ExportSecretResponse{
		Address:   wallet.Address,
		SecretKey: solana.PrivateKey(secret).String(),
	})
}
