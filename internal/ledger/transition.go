package ledger

import (
	"context"
	"time"

	"cedra_fulfillment/internal/models"
	"cedra_fulfillment/internal/statemachine"
)

// Transition applique un événement à la commande sous CAS. applied vaut false pour un no-op idempotent.
func Transition(ctx context.Context, s Store, orderID string, ev models.TransitionEvent, actor string, now func() time.Time) (*models.Order, bool, error) {
	return Mutate(ctx, s, orderID, func(o *models.Order) (bool, error) {
		return statemachine.ApplyOrderEvent(o, ev, actor, now())
	})
}
