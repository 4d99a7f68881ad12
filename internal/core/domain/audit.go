package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionRegister         AuditAction = "REGISTER"
	AuditActionLogin            AuditAction = "LOGIN"
	AuditActionInternalTransfer AuditAction = "INTERNAL_TRANSFER"
	AuditActionWithdrawRequest  AuditAction = "WITHDRAW_REQUEST"
	AuditActionWithdrawCancel   AuditAction = "WITHDRAW_CANCEL"
	AuditActionExportSecret     AuditAction = "EXPORT_SECRET"
	AuditActionFeedConfirmation AuditAction = "FEED_CONFIRMATION"
	AuditActionFeedDeposit      AuditAction = "FEED_DEPOSIT"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *int64      `json:"user_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
