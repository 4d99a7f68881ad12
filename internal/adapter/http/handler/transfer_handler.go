package handler

import (
	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// TransferHandler handles internal transfers and withdrawals.
type TransferHandler struct {
	transfers ports.TransferService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transfers ports.TransferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

// InternalTransfer handles POST /api/v1/transfers.
func (h *TransferHandler) InternalTransfer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	rec, err := h.transfers.InternalTransfer(c.Request.Context(), ports.InternalTransferRequest{
		FromUserID: userID,
		ToUserID:   req.ToUserID,
		ToAddress:  req.ToAddress,
		Token:      req.Token,
		Amount:     amount,
		Metadata:   req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewTransactionResponse(rec))
}

// RequestWithdrawal handles POST /api/v1/withdrawals.
func (h *TransferHandler) RequestWithdrawal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	rec, err := h.transfers.RequestWithdrawal(c.Request.Context(), ports.WithdrawalRequest{
		UserID:      userID,
		Token:       req.Token,
		Amount:      amount,
		ToAddress:   req.ToAddress,
		ReferenceID: req.ReferenceID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewTransactionResponse(rec))
}

// CancelWithdrawal handles POST /api/v1/withdrawals/:id/cancel.
func (h *TransferHandler) CancelWithdrawal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	rec, err := h.transfers.CancelWithdrawal(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(rec))
}
