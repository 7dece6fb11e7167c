package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"cedra_fulfillment/internal/admin"
)

// RequireAdmin vérifie que l'utilisateur a le rôle "admin" (ou "superadmin")
func RequireAdmin(c *gin.Context) {
	RequireRole(admin.RoleAdmin, admin.RoleSuperAdmin)(c)
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		log.Printf("🚫 Accès refusé à %s (rôle %q)", c.FullPath(), role)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Accès réservé aux administrateurs", "kind": "privilege_denied"})
	}
}
