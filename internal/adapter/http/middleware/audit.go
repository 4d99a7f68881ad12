package middleware

import (
	"encoding/json"
	"net/http"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// AuditLog records successful write operations after the handler ran.
// Routes are matched on their registered pattern, so path parameters
// become the resource ID. Secret export is audited by the custody service
// itself and is not mapped here.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action, resourceType := mapPathToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var userID *int64
		if id, ok := UserID(c); ok {
			userID = &id
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			UserID:       userID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
		})
	}
}

func mapPathToAction(route, method string) (domain.AuditAction, string) {
	if method != http.MethodPost {
		return "", ""
	}
	switch route {
	case "/api/v1/auth/register":
		return domain.AuditActionRegister, "user"
	case "/api/v1/auth/login":
		return domain.AuditActionLogin, "session"
	case "/api/v1/transfers":
		return domain.AuditActionInternalTransfer, "transaction"
	case "/api/v1/withdrawals":
		return domain.AuditActionWithdrawRequest, "transaction"
	case "/api/v1/withdrawals/:id/cancel":
		return domain.AuditActionWithdrawCancel, "transaction"
	case "/api/v1/feed/confirmations":
		return domain.AuditActionFeedConfirmation, "transaction"
	case "/api/v1/feed/deposits":
		return domain.AuditActionFeedDeposit, "transaction"
	}
	return "", ""
}
