package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	adminsvc "cedra_fulfillment/internal/admin"
	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/checkout"
	"cedra_fulfillment/internal/handlers"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/middleware"
	"cedra_fulfillment/internal/models"
	"cedra_fulfillment/internal/utils"
)

const evidenceLinkTTL = 15 * time.Minute

// PriceInvalidator purge le prix mis en cache d'un produit
type PriceInvalidator interface {
	Invalidate(ctx context.Context, productRef string) error
}

// EvidenceLinker produit un lien de consultation temporaire vers une preuve archivée
type EvidenceLinker interface {
	SignedURL(ctx context.Context, key string, duration time.Duration) (string, error)
}

type Handler struct {
	svc      *adminsvc.Service
	checkout *checkout.Service
	journal  ledger.Journal
	evidence EvidenceLinker
	audit    utils.AuditReader
	prices   PriceInvalidator
}

type Options struct {
	Service  *adminsvc.Service
	Checkout *checkout.Service
	Journal  ledger.Journal
	Evidence EvidenceLinker
	Audit    utils.AuditReader
	Prices   PriceInvalidator
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		svc:      opts.Service,
		checkout: opts.Checkout,
		journal:  opts.Journal,
		evidence: opts.Evidence,
		audit:    opts.Audit,
		prices:   opts.Prices,
	}
}

type bulkRequest struct {
	IDs        []string `json:"ids" binding:"required"`
	Reason     string   `json:"reason"`
	HardDelete bool     `json:"hard_delete"`
}

// DeleteOrder : DELETE /orders/:id?hardDelete=true&reason=...
func (h *Handler) DeleteOrder(c *gin.Context) {
	hard, _ := strconv.ParseBool(c.Query("hardDelete"))
	h.snapshotOrder(c)
	res, err := h.svc.DeleteOrder(c.Request.Context(), handlers.Actor(c), c.Param("id"), c.Query("reason"), hard)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, res)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RestoreOrder(c *gin.Context) {
	h.snapshotOrder(c)
	order, err := h.svc.RestoreOrder(c.Request.Context(), handlers.Actor(c), c.Param("id"))
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, gin.H{"deleted": order.Deleted, "status": order.Status})
	c.JSON(http.StatusOK, order)
}

// snapshotOrder garde l'état avant modification pour l'audit
func (h *Handler) snapshotOrder(c *gin.Context) {
	if o, err := h.svc.GetOrder(c.Request.Context(), c.Param("id")); err == nil {
		c.Set(middleware.AuditOldValueKey, gin.H{"deleted": o.Deleted, "status": o.Status})
	}
}

func (h *Handler) BulkDeleteOrders(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, apperr.Validation("Données invalides").With("details", err.Error()))
		return
	}
	res, err := h.svc.BulkDeleteOrders(c.Request.Context(), handlers.Actor(c), req.IDs, req.Reason, req.HardDelete)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, res)
	c.JSON(http.StatusOK, res)
}

// GetOrder : vue admin, commandes supprimées comprises
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RefundOrder rembourse intégralement une commande payée
func (h *Handler) RefundOrder(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// corps optionnel
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "remboursement administrateur"
	}

	actor := handlers.Actor(c)
	order, err := h.checkout.Refund(c.Request.Context(), c.Param("id"), req.Reason, "admin:"+actor.String())
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, gin.H{"status": order.Status, "reason": req.Reason})
	c.JSON(http.StatusOK, gin.H{"order_id": order.OrderID, "status": order.Status})
}

type reviewView struct {
	models.ManualReview
	EvidenceURL string `json:"evidence_url,omitempty"`
}

// Reviews liste les événements mis en revue manuelle avec un lien vers la preuve brute
func (h *Handler) Reviews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	reviews, err := h.journal.Reviews(c.Request.Context(), limit)
	if err != nil {
		handlers.RespondError(c, apperr.Internal(err, "lecture des revues"))
		return
	}

	out := make([]reviewView, 0, len(reviews))
	for _, r := range reviews {
		view := reviewView{ManualReview: r}
		if h.evidence != nil && r.EvidenceKey != "" {
			if link, err := h.evidence.SignedURL(c.Request.Context(), r.EvidenceKey, evidenceLinkTTL); err == nil {
				view.EvidenceURL = link
			}
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"reviews": out, "total": len(out)})
}

// AuditLogs récupère les logs d'audit avec filtres
func (h *Handler) AuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter := utils.AuditFilter{
		UserID:     c.Query("user_id"),
		Action:     c.Query("action"),
		Resource:   c.Query("resource"),
		ResourceID: c.Query("resource_id"),
		Limit:      limit,
	}
	logs, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		handlers.RespondError(c, apperr.Internal(err, "lecture des logs d'audit"))
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": len(logs)})
}

// InvalidatePrice : DELETE /admin/catalog/:ref/cache, après un changement de prix
func (h *Handler) InvalidatePrice(c *gin.Context) {
	if h.prices == nil {
		handlers.RespondError(c, apperr.NotFound("cache catalogue non configuré"))
		return
	}
	ref := c.Param("ref")
	if err := h.prices.Invalidate(c.Request.Context(), ref); err != nil {
		handlers.RespondError(c, apperr.Internal(err, "invalidation du prix %s", ref))
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_ref": ref, "invalidated": true})
}
