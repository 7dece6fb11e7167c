package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	adminh "cedra_fulfillment/internal/handlers/admin"
	pa "cedra_fulfillment/internal/handlers/payement"
	"cedra_fulfillment/internal/handlers/user"
	"cedra_fulfillment/internal/middleware"
	"cedra_fulfillment/internal/utils"
)

type Deps struct {
	JWTSecret          []byte
	Redis              redis.Cmdable
	CheckoutRatePerMin int
	Audit              utils.AuditSink

	Payments *pa.Handler
	Users    *user.Handler
	Admin    *adminh.Handler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	auth := middleware.AuthRequired(d.JWTSecret)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.AuditCriticalActions(d.Audit, action, resource)
	}

	// Paiement
	r.POST("/checkout", middleware.OptionalAuth(d.JWTSecret), middleware.CheckoutRateLimit(d.Redis, d.CheckoutRatePerMin), d.Payments.Checkout)
	payments := r.Group("/payments/:provider")
	{
		payments.POST("/capture/:reference", middleware.OptionalAuth(d.JWTSecret), d.Payments.Capture)
		// authentifié par la signature du prestataire, jamais par JWT
		payments.POST("/webhook", d.Payments.Webhook)
	}

	// Client
	orders := r.Group("/orders", auth)
	{
		orders.GET("", d.Users.GetMyOrders)
		orders.GET("/:id", d.Users.GetOrderByID)
		orders.GET("/:id/ws", d.Users.OrderWebSocket)

		orders.DELETE("/:id", middleware.RequireAdmin, audit(utils.ACTION_ORDER_DELETE, utils.RESOURCE_ORDER), d.Admin.DeleteOrder)
		orders.POST("/:id/restore", middleware.RequireAdmin, audit(utils.ACTION_ORDER_RESTORE, utils.RESOURCE_ORDER), d.Admin.RestoreOrder)
		orders.POST("/bulk-delete", middleware.RequireAdmin, audit(utils.ACTION_ORDER_BULK_DELETE, utils.RESOURCE_ORDER), d.Admin.BulkDeleteOrders)
	}

	bookings := r.Group("/bookings", auth, middleware.RequireAdmin)
	{
		bookings.DELETE("/:id", audit(utils.ACTION_BOOKING_DELETE, utils.RESOURCE_BOOKING), d.Admin.DeleteBooking)
		bookings.POST("/:id/restore", audit(utils.ACTION_BOOKING_RESTORE, utils.RESOURCE_BOOKING), d.Admin.RestoreBooking)
		bookings.POST("/bulk-delete", audit(utils.ACTION_BOOKING_BULK_DELETE, utils.RESOURCE_BOOKING), d.Admin.BulkDeleteBookings)
	}

	// Administration
	adminGroup := r.Group("/admin", auth, middleware.RequireAdmin)
	{
		adminGroup.GET("/orders/stats", d.Admin.Stats)
		adminGroup.GET("/orders/:id", d.Admin.GetOrder)
		adminGroup.POST("/orders/:id/refund", audit(utils.ACTION_ORDER_REFUND, utils.RESOURCE_ORDER), d.Admin.RefundOrder)
		adminGroup.POST("/bookings/:id/status", audit(utils.ACTION_BOOKING_STATUS, utils.RESOURCE_BOOKING), d.Admin.BookingStatus)
		adminGroup.GET("/reviews", d.Admin.Reviews)
		adminGroup.GET("/audit-logs", d.Admin.AuditLogs)
		adminGroup.DELETE("/catalog/:ref/cache", audit(utils.ACTION_CATALOG_INVALIDATE, utils.RESOURCE_PRODUCT), d.Admin.InvalidatePrice)
	}
}
