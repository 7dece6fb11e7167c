package statemachine

import (
	"time"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

// Orders : pending -> awaiting_payment -> {paid, failed, cancelled} ; paid -> refunded
var Orders = New("order", map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:         {models.StatusAwaitingPayment},
	models.StatusAwaitingPayment: {models.StatusPaid, models.StatusFailed, models.StatusCancelled},
	models.StatusPaid:            {models.StatusRefunded},
}, models.StatusPaid, models.StatusFailed, models.StatusCancelled, models.StatusRefunded)

// NewOrderHistory ouvre l'historique d'une commande provisoire
func NewOrderHistory(actor string, now time.Time) []models.StatusEntry {
	return []models.StatusEntry{{
		Status: models.StatusPending,
		At:     now.UTC(),
		Reason: "checkout",
		Actor:  actor,
	}}
}

// ApplyOrderEvent est le seul chemin autorisé à modifier order.Status.
// Renvoie applied=false (sans erreur) quand l'événement reproduit le statut courant.
func ApplyOrderEvent(o *models.Order, ev models.TransitionEvent, actor string, now time.Time) (applied bool, err error) {
	switch {
	case o.ProviderReference != "" && ev.ProviderReference != o.ProviderReference:
		return false, apperr.Validation("référence fournisseur %q ne correspond pas à la commande %s", ev.ProviderReference, o.OrderID).
			With("order_id", o.OrderID)
	case o.ProviderReference == "" && ev.TargetStatus != o.Status:
		// la référence ne s'attribue qu'à l'ouverture de la session fournisseur
		if ev.TargetStatus != models.StatusAwaitingPayment {
			return false, apperr.InvalidTransition(Orders.Entity(), string(o.Status), string(ev.TargetStatus))
		}
		if ev.ProviderReference == "" {
			return false, apperr.Validation("référence fournisseur requise pour ouvrir le paiement de %s", o.OrderID)
		}
	}

	noop, err := Orders.Check(o.Status, ev.TargetStatus)
	if err != nil || noop {
		return false, err
	}

	var last time.Time
	if n := len(o.StatusHistory); n > 0 {
		last = o.StatusHistory[n-1].At
	}
	at := nextTimestamp(last, now)

	if o.ProviderReference == "" {
		o.ProviderReference = ev.ProviderReference
	}
	o.Status = ev.TargetStatus
	o.StatusHistory = append(o.StatusHistory, models.StatusEntry{
		Status: ev.TargetStatus,
		At:     at,
		Reason: ev.Reason,
		Actor:  actor,
	})
	o.UpdatedAt = at
	return true, nil
}

// HistoryConsistent vérifie : horodatages strictement croissants, dernière entrée = statut courant
func HistoryConsistent(o *models.Order) bool {
	if len(o.StatusHistory) == 0 {
		return false
	}
	for i := 1; i < len(o.StatusHistory); i++ {
		if !o.StatusHistory[i].At.After(o.StatusHistory[i-1].At) {
			return false
		}
	}
	return o.StatusHistory[len(o.StatusHistory)-1].Status == o.Status
}
