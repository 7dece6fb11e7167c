package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/handlers"
	"cedra_fulfillment/internal/middleware"
	"cedra_fulfillment/internal/models"
)

func (h *Handler) DeleteBooking(c *gin.Context) {
	hard, _ := strconv.ParseBool(c.Query("hardDelete"))
	h.snapshotBooking(c)
	res, err := h.svc.DeleteBooking(c.Request.Context(), handlers.Actor(c), c.Param("id"), c.Query("reason"), hard)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, res)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RestoreBooking(c *gin.Context) {
	h.snapshotBooking(c)
	b, err := h.svc.RestoreBooking(c.Request.Context(), handlers.Actor(c), c.Param("id"))
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, gin.H{"deleted": b.Deleted, "status": b.Status})
	c.JSON(http.StatusOK, b)
}

func (h *Handler) BulkDeleteBookings(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, apperr.Validation("Données invalides").With("details", err.Error()))
		return
	}
	res, err := h.svc.BulkDeleteBookings(c.Request.Context(), handlers.Actor(c), req.IDs, req.Reason, req.HardDelete)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, res)
	c.JSON(http.StatusOK, res)
}

// BookingStatus : POST /admin/bookings/:id/status {"status": "confirmed", "reason": "..."}
func (h *Handler) BookingStatus(c *gin.Context) {
	var req struct {
		Status models.BookingStatus `json:"status" binding:"required"`
		Reason string               `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, apperr.Validation("Données invalides").With("details", err.Error()))
		return
	}

	h.snapshotBooking(c)
	b, err := h.svc.TransitionBooking(c.Request.Context(), handlers.Actor(c), c.Param("id"), req.Status, req.Reason)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Set(middleware.AuditNewValueKey, gin.H{"status": b.Status})
	c.JSON(http.StatusOK, b)
}

func (h *Handler) snapshotBooking(c *gin.Context) {
	if b, err := h.svc.GetBooking(c.Request.Context(), c.Param("id")); err == nil {
		c.Set(middleware.AuditOldValueKey, gin.H{"deleted": b.Deleted, "status": b.Status})
	}
}
