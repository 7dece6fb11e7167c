package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"cedra_fulfillment/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// StatusChannel est le canal Redis suivi par le flux WebSocket d'une commande
func StatusChannel(orderID string) string {
	return "order:" + orderID
}

type StatusMessage struct {
	OrderID   string             `json:"order_id"`
	Status    models.OrderStatus `json:"status"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type RedisPublisher struct {
	rdb redis.Cmdable
}

func NewRedisPublisher(rdb redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.rdb.Publish(ctx, channel, payload).Err()
}
