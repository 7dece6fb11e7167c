package models

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"
)

// OrderStatus représente le statut financier d'une commande
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	StatusPaid            OrderStatus = "paid"
	StatusFailed          OrderStatus = "failed"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRefunded        OrderStatus = "refunded"
)

// Provider tags
const (
	ProviderCard     = "card"
	ProviderWallet   = "wallet"
	ProviderRedirect = "redirect"
)

type LineItem struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

type Amounts struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Expected recalcule subtotal + shipping + tax - discount
func (a Amounts) Expected() decimal.Decimal {
	return a.Subtotal.Add(a.Shipping).Add(a.Tax).Sub(a.Discount)
}

// Balanced vérifie l'invariant total = subtotal + shipping + tax - discount
func (a Amounts) Balanced() bool {
	return a.Total.Equal(a.Expected())
}

type StatusEntry struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
	Reason string      `json:"reason,omitempty"`
	Actor  string      `json:"actor,omitempty"`
}

// SoftDelete est orthogonal au statut : il masque l'entité sans toucher à son historique
type SoftDelete struct {
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      string     `json:"deleted_by,omitempty"`
	DeletionReason string     `json:"deletion_reason,omitempty"`
}

func (s *SoftDelete) MarkDeleted(by, reason string, at time.Time) {
	s.Deleted = true
	s.DeletedAt = &at
	s.DeletedBy = by
	s.DeletionReason = reason
}

func (s *SoftDelete) Clear() {
	*s = SoftDelete{}
}

type Order struct {
	Key                gocql.UUID    `json:"-"`
	OrderID            string        `json:"order_id"`
	OwnerRef           string        `json:"owner_ref,omitempty"`
	GuestEmail         string        `json:"guest_email,omitempty"`
	ContactEmail       string        `json:"-"`
	LineItems          []LineItem    `json:"line_items"`
	Amounts            Amounts       `json:"amounts"`
	Currency           string        `json:"currency"`
	Status             OrderStatus   `json:"status"`
	StatusHistory      []StatusEntry `json:"status_history"`
	Provider           string        `json:"provider"`
	ProviderReference  string        `json:"provider_reference,omitempty"`
	ProviderSessionURL string        `json:"provider_session_url,omitempty"`
	IdempotencyKey     string        `json:"-"`
	SoftDelete
	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone copie profonde, les stores ne partagent jamais leurs slices avec l'appelant
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.LineItems = append([]LineItem(nil), o.LineItems...)
	cp.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	if o.DeletedAt != nil {
		at := *o.DeletedAt
		cp.DeletedAt = &at
	}
	return &cp
}

// TransitionEvent est l'entrée unique de la machine à états des commandes
type TransitionEvent struct {
	TargetStatus      OrderStatus
	ProviderReference string
	OccurredAt        time.Time
	RawEvidence       []byte
	Reason            string
}
