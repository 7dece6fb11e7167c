package models

import (
	"time"

	"github.com/gocql/gocql"
)

// ManualReview trace un événement fournisseur refusé qui demande une investigation humaine
type ManualReview struct {
	ID                gocql.UUID  `json:"id"`
	OrderID           string      `json:"order_id"`
	Provider          string      `json:"provider"`
	ProviderReference string      `json:"provider_reference"`
	EventID           string      `json:"event_id"`
	EventType         string      `json:"event_type"`
	CurrentStatus     OrderStatus `json:"current_status"`
	AttemptedStatus   OrderStatus `json:"attempted_status"`
	EvidenceKey       string      `json:"evidence_key,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}
