package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// CheckoutRateLimit limite les ouvertures de paiement par utilisateur (ou par IP pour un invité), par minute
func CheckoutRateLimit(rdb redis.Cmdable, maxPerMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxPerMinute <= 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		subject := c.GetString("user_id")
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}
		key := "checkout_requests:" + subject

		n, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis indisponible : le garde d'idempotence refusera de toute façon la requête
			log.Printf("⚠️ Rate limit checkout indisponible: %v", err)
			c.Next()
			return
		}
		// fenêtre fixe ouverte par la première requête
		if n == 1 {
			rdb.Expire(ctx, key, time.Minute)
		}

		requests := int(n)
		if requests > maxPerMinute {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Trop de tentatives de paiement. Réessayez dans 1 minute",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", maxPerMinute))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", maxPerMinute-requests))
		c.Next()
	}
}
