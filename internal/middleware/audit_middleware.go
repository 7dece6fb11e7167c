package middleware

import (
	"github.com/gin-gonic/gin"

	"cedra_fulfillment/internal/utils"
)

// Clés de contexte que les handlers renseignent pour enrichir l'audit
const (
	AuditOldValueKey = "audit_old_value"
	AuditNewValueKey = "audit_new_value"
	AuditErrorKey    = "audit_error"
)

// AuditCriticalActions middleware pour auditer toutes les actions d'administration, réussies ou refusées
func AuditCriticalActions(sink utils.AuditSink, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceID := c.Param("id")
		if resourceID == "" {
			resourceID = "bulk"
		}

		c.Next()

		if c.Writer.Status() >= 200 && c.Writer.Status() < 300 {
			oldValue, _ := c.Get(AuditOldValueKey)
			newValue, _ := c.Get(AuditNewValueKey)
			utils.LogAction(sink, c, action, resource, resourceID, oldValue, newValue)
			return
		}
		msg := c.GetString(AuditErrorKey)
		if msg == "" {
			msg = "Action échouée"
		}
		utils.LogFailedAction(sink, c, action, resource, resourceID, msg)
	}
}
