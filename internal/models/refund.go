package models

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"
)

type Refund struct {
	ID               gocql.UUID      `json:"id"`
	OrderID          string          `json:"order_id"`
	Provider         string          `json:"provider"`
	ProviderRefundID string          `json:"provider_refund_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	RequestedBy      string          `json:"requested_by"`
	CreatedAt        time.Time       `json:"created_at"`
}
