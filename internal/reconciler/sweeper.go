package reconciler

import (
	"context"
	"log"
	"time"

	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
	"cedra_fulfillment/internal/providers"
)

// Sweeper interroge périodiquement le prestataire pour les commandes restées en awaiting_payment
type Sweeper struct {
	store      ledger.Store
	registry   *providers.Registry
	notifier   Notifier
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func NewSweeper(store ledger.Store, registry *providers.Registry, notifier Notifier, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		registry:   registry,
		notifier:   notifier,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      100,
		now:        time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("🧹 Réconciliation périodique démarrée (toutes les %s, seuil %s)", s.interval, s.staleAfter)
	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Réconciliation périodique arrêtée")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep renvoie le nombre de commandes dont le statut a changé
func (s *Sweeper) Sweep(ctx context.Context) int {
	stale, err := s.store.ListStale(ctx, models.StatusAwaitingPayment, s.now().Add(-s.staleAfter), s.batch)
	if err != nil {
		log.Printf("❌ Réconciliation: lecture des commandes en attente impossible: %v", err)
		return 0
	}

	changed := 0
	for _, o := range stale {
		adapter, err := s.registry.Get(o.Provider)
		if err != nil {
			log.Printf("⚠️ Réconciliation %s: %v", o.OrderID, err)
			continue
		}

		outcome, err := adapter.Capture(ctx, o.ProviderReference)
		if err != nil {
			// prestataire injoignable : la commande garde son dernier statut confirmé
			log.Printf("⚠️ Réconciliation %s reportée: %v", o.OrderID, err)
			continue
		}
		target, ok := outcome.Target()
		if !ok {
			continue
		}

		updated, applied, err := ledger.Transition(ctx, s.store, o.OrderID, models.TransitionEvent{
			TargetStatus:      target,
			ProviderReference: o.ProviderReference,
			OccurredAt:        s.now(),
			Reason:            "réconciliation " + string(outcome),
		}, "system:sweeper", s.now)
		if err != nil {
			log.Printf("❌ Réconciliation %s: %v", o.OrderID, err)
			continue
		}
		if applied {
			changed++
			log.Printf("✅ Commande %s → %s (réconciliation)", updated.OrderID, updated.Status)
			if s.notifier != nil {
				s.notifier.OrderChanged(updated.Clone())
			}
		}
	}
	return changed
}
