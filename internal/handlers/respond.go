// Package handlers porte ce qui est commun aux handlers HTTP : enveloppe d'erreur et identité de l'appelant.
package handlers

import (
	"errors"
	"log"

	"github.com/gin-gonic/gin"

	"cedra_fulfillment/internal/admin"
	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/middleware"
)

// RespondError traduit une erreur de la taxonomie en {"error", "kind", "details"}
func RespondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	body := gin.H{"error": err.Error(), "kind": kind}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body["error"] = appErr.Message
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
	}
	if kind == apperr.KindInternal {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.FullPath(), err)
		body["error"] = "Erreur serveur"
	}

	c.Set(middleware.AuditErrorKey, err.Error())
	c.AbortWithStatusJSON(status, body)
}

// Actor reconstruit l'administrateur depuis les claims posés par AuthRequired
func Actor(c *gin.Context) admin.Actor {
	return admin.Actor{
		ID:    c.GetString("user_id"),
		Email: c.GetString("email"),
		Role:  c.GetString("role"),
	}
}
