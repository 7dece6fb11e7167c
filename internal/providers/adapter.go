// Package providers normalise les prestataires de paiement (carte, wallet, redirection)
// derrière une même interface : le checkout et la réconciliation ne connaissent que Adapter.
package providers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePending   Outcome = "pending"
	OutcomeFailed    Outcome = "failed"
)

// Target renvoie le statut de commande correspondant ; false pour pending
func (o Outcome) Target() (models.OrderStatus, bool) {
	switch o {
	case OutcomeSucceeded:
		return models.StatusPaid, true
	case OutcomeFailed:
		return models.StatusFailed, true
	}
	return "", false
}

type EventKind string

const (
	EventSucceeded EventKind = "payment_succeeded"
	EventFailed    EventKind = "payment_failed"
	EventCancelled EventKind = "payment_cancelled"
	EventRefunded  EventKind = "payment_refunded"
	EventPending   EventKind = "payment_pending"
	EventIgnored   EventKind = "ignored"
)

func (k EventKind) Target() (models.OrderStatus, bool) {
	switch k {
	case EventSucceeded:
		return models.StatusPaid, true
	case EventFailed:
		return models.StatusFailed, true
	case EventCancelled:
		return models.StatusCancelled, true
	case EventRefunded:
		return models.StatusRefunded, true
	}
	return "", false
}

// Session est ce que le client reçoit pour finaliser le paiement chez le prestataire
type Session struct {
	Reference    string `json:"provider_reference"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type VerifiedEvent struct {
	EventID    string
	EventType  string
	Kind       EventKind
	Reference  string
	OccurredAt time.Time
	Raw        []byte
}

type RefundResult struct {
	RefundID string
}

type Adapter interface {
	Name() string
	// SessionFirst : la commande n'est persistée qu'une fois la session acceptée
	SessionFirst() bool
	Initiate(ctx context.Context, order *models.Order) (Session, error)
	Capture(ctx context.Context, reference string) (Outcome, error)
	Refund(ctx context.Context, order *models.Order, amount decimal.Decimal) (RefundResult, error)
	// VerifyWebhook renvoie une erreur apperr.ProviderAuthenticity si la signature est invalide
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (VerifiedEvent, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperr.Validation("fournisseur de paiement inconnu: %q", name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
