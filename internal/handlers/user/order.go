package user

import (
	"errors"
	"log"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/handlers"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
)

type Handler struct {
	store    ledger.Store
	rdb      *redis.Client
	upgrader websocket.Upgrader
}

// NewHandler ; allowedOrigin vide = toutes origines acceptées pour le WebSocket
func NewHandler(store ledger.Store, rdb *redis.Client, allowedOrigin string) *Handler {
	return &Handler{
		store: store,
		rdb:   rdb,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

// GetMyOrders : commandes de l'utilisateur connecté, plus récentes d'abord, sans les supprimées
func (h *Handler) GetMyOrders(c *gin.Context) {
	userID := c.GetString("user_id")
	orders, err := h.store.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		handlers.RespondError(c, apperr.Internal(err, "liste des commandes de %s", userID))
		return
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if orders == nil {
		orders = []*models.Order{}
	}

	log.Printf("✅ %d commandes trouvées pour user %s", len(orders), userID)
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// GetOrderByID ne renvoie que les commandes visibles du propriétaire
func (h *Handler) GetOrderByID(c *gin.Context) {
	order, err := h.ownedOrder(c)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) ownedOrder(c *gin.Context) (*models.Order, error) {
	orderID := c.Param("id")
	order, err := h.store.Get(c.Request.Context(), orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("Commande introuvable")
	}
	if err != nil {
		return nil, apperr.Internal(err, "lecture commande %s", orderID)
	}
	// une commande d'un autre client ou supprimée est indiscernable d'une commande absente
	if order.OwnerRef != c.GetString("user_id") || order.Deleted {
		return nil, apperr.NotFound("Commande introuvable")
	}
	return order, nil
}
