package handler

import (
	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// FeedHandler receives on-chain observations from the chain watcher.
// Routes are behind middleware.FeedAuth.
type FeedHandler struct {
	confirmations ports.ConfirmationService
}

// NewFeedHandler creates a new FeedHandler.
func NewFeedHandler(confirmations ports.ConfirmationService) *FeedHandler {
	return &FeedHandler{confirmations: confirmations}
}

// Confirmation handles POST /api/v1/feed/confirmations. Redelivered events
// answer 200 with the current record.
func (h *FeedHandler) Confirmation(c *gin.Context) {
	var req dto.ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	rec, err := h.confirmations.HandleConfirmation(c.Request.Context(), ports.ConfirmationEvent{
		TransactionID:         req.TransactionID,
		ObservedConfirmations: req.ObservedConfirmations,
		Outcome:               ports.ConfirmationOutcome(req.Outcome),
		TxHash:                req.TxHash,
		ErrorDetail:           req.ErrorDetail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(rec))
}

// Deposit handles POST /api/v1/feed/deposits.
func (h *FeedHandler) Deposit(c *gin.Context) {
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	rec, err := h.confirmations.RecordDeposit(c.Request.Context(), ports.DepositEvent{
		ToAddress:   req.ToAddress,
		FromAddress: req.FromAddress,
		Token:       req.Token,
		Amount:      amount,
		TxHash:      req.TxHash,
		Slot:        req.Slot,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(rec))
}
