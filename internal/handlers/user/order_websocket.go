package user

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cedra_fulfillment/internal/handlers"
	"cedra_fulfillment/internal/notify"
)

const wsPingInterval = 30 * time.Second

// OrderWebSocket pousse au client les changements de statut de sa commande (canal Redis order:<id>)
func (h *Handler) OrderWebSocket(c *gin.Context) {
	order, err := h.ownedOrder(c)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ Erreur upgrade WebSocket: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	pubsub := h.rdb.Subscribe(ctx, notify.StatusChannel(order.OrderID))
	defer pubsub.Close()
	ch := pubsub.Channel()

	// le client ne parle pas ; la lecture sert à détecter la fermeture
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(map[string]interface{}{
		"type":     "connected",
		"order_id": order.OrderID,
		"status":   order.Status,
	}); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var update notify.StatusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				log.Printf("⚠️ Message de statut illisible sur %s: %v", msg.Channel, err)
				continue
			}
			if err := conn.WriteJSON(map[string]interface{}{
				"type":       "order_status",
				"order_id":   update.OrderID,
				"status":     update.Status,
				"updated_at": update.UpdatedAt,
			}); err != nil {
				log.Printf("❌ Erreur envoi WebSocket: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
