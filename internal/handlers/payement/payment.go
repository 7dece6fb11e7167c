package pa

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/handlers"
	"cedra_fulfillment/internal/reconciler"
)

// Capture confirme un paiement à redirection au retour du client
func (h *Handler) Capture(c *gin.Context) {
	actor := c.GetString("user_id")
	if actor == "" {
		actor = "return:" + c.ClientIP()
	}
	order, err := h.checkout.Capture(c.Request.Context(), c.Param("provider"), c.Param("reference"), actor)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.OrderID, "status": order.Status})
}

// Webhook : 2xx dès que l'événement est vérifié et traité (no-op compris), 202 quand il part en revue manuelle
func (h *Handler) Webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload trop volumineux"})
			return
		}
		handlers.RespondError(c, apperr.Validation("Lecture du corps impossible"))
		return
	}

	ack, err := h.reconciler.Handle(c.Request.Context(), c.Param("provider"), payload, c.Request.Header)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	status := http.StatusOK
	if ack.Status == reconciler.AckFlagged {
		status = http.StatusAccepted
	}
	c.JSON(status, ack)
}
