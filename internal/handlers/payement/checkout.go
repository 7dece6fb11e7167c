package pa

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/checkout"
	"cedra_fulfillment/internal/handlers"
	"cedra_fulfillment/internal/reconciler"
)

// MaxWebhookBytes borne le corps des webhooks
const MaxWebhookBytes = int64(65536)

type Handler struct {
	checkout   *checkout.Service
	reconciler *reconciler.Reconciler
}

func NewHandler(svc *checkout.Service, rec *reconciler.Reconciler) *Handler {
	return &Handler{checkout: svc, reconciler: rec}
}

// Checkout ouvre un paiement : 201 avec la session, 409 avec la commande existante sur une clé déjà utilisée
func (h *Handler) Checkout(c *gin.Context) {
	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, apperr.Validation("Données invalides").With("details", err.Error()))
		return
	}
	req.OwnerRef = c.GetString("user_id")
	req.AccountEmail = c.GetString("email")

	res, err := h.checkout.Checkout(c.Request.Context(), req)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = apperr.HTTPStatus(apperr.KindIdempotencyConflict)
		log.Printf("🔁 Checkout rejoué, commande existante %s renvoyée", res.Order.OrderID)
	}
	c.JSON(status, gin.H{
		"order_id":         res.Order.OrderID,
		"status":           res.Order.Status,
		"amounts":          res.Order.Amounts,
		"currency":         res.Order.Currency,
		"provider":         res.Order.Provider,
		"provider_session": res.Session,
		"duplicate":        res.Duplicate,
	})
}
