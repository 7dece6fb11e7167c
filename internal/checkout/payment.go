package checkout

import (
	"context"
	"errors"
	"log"

	"github.com/gocql/gocql"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
)

// Capture confirme explicitement un paiement (prestataires à redirection). Un résultat pending ou un
// prestataire injoignable laisse la commande dans son dernier statut confirmé.
func (s *Service) Capture(ctx context.Context, provider, reference, actor string) (*models.Order, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	order, err := s.store.GetByReference(ctx, adapter.Name(), reference)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("aucune commande pour la référence %s", reference)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lecture commande %s", reference)
	}

	outcome, err := adapter.Capture(ctx, reference)
	if err != nil {
		log.Printf("⚠️ Capture %s/%s non confirmée, commande %s laissée en %s: %v", provider, reference, order.OrderID, order.Status, err)
		return nil, err
	}

	target, ok := outcome.Target()
	if !ok {
		return order, nil
	}

	updated, applied, err := ledger.Transition(ctx, s.store, order.OrderID, models.TransitionEvent{
		TargetStatus:      target,
		ProviderReference: reference,
		OccurredAt:        s.now(),
		Reason:            "capture " + string(outcome),
	}, actor, s.now)
	if err != nil {
		return nil, err
	}
	if applied {
		log.Printf("✅ Commande %s → %s (capture)", updated.OrderID, updated.Status)
		s.notify(updated)
	}
	return updated, nil
}

// Refund rembourse intégralement une commande payée puis applique paid → refunded
func (s *Service) Refund(ctx context.Context, orderID, reason, actor string) (*models.Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("commande %s introuvable", orderID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lecture commande %s", orderID)
	}

	switch order.Status {
	case models.StatusRefunded:
		return order, nil
	case models.StatusPaid:
	default:
		return nil, apperr.InvalidTransition("order", string(order.Status), string(models.StatusRefunded))
	}

	adapter, err := s.registry.Get(order.Provider)
	if err != nil {
		return nil, err
	}
	res, err := adapter.Refund(ctx, order, order.Amounts.Total)
	if err != nil {
		return nil, err
	}

	if s.journal != nil {
		refund := &models.Refund{
			ID:               gocql.TimeUUID(),
			OrderID:          order.OrderID,
			Provider:         order.Provider,
			ProviderRefundID: res.RefundID,
			Amount:           order.Amounts.Total,
			Reason:           reason,
			RequestedBy:      actor,
			CreatedAt:        s.now().UTC(),
		}
		if err := s.journal.RecordRefund(ctx, refund); err != nil {
			log.Printf("⚠️ Remboursement %s non journalisé: %v", res.RefundID, err)
		}
	}

	updated, applied, err := ledger.Transition(ctx, s.store, order.OrderID, models.TransitionEvent{
		TargetStatus:      models.StatusRefunded,
		ProviderReference: order.ProviderReference,
		OccurredAt:        s.now(),
		Reason:            reason,
	}, actor, s.now)
	if err != nil {
		return nil, err
	}
	if applied {
		log.Printf("💸 Commande %s remboursée (%s)", updated.OrderID, res.RefundID)
		s.notify(updated)
	}
	return updated, nil
}
