// Package reconciler aligne les commandes sur les événements des prestataires :
// webhooks vérifiés (Handle) et balayage périodique des paiements en attente (Sweeper).
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gocql/gocql"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
	"cedra_fulfillment/internal/providers"
	"cedra_fulfillment/internal/statemachine"
)

type EventLog interface {
	SeenEvent(ctx context.Context, provider, eventID string) (bool, error)
	MarkEvent(ctx context.Context, provider, eventID string) error
}

// EvidenceArchive conserve le payload brut d'un événement mis en revue
type EvidenceArchive interface {
	Archive(ctx context.Context, key string, payload []byte) error
}

type Notifier interface {
	OrderChanged(o *models.Order)
}

type AckStatus string

const (
	AckProcessed AckStatus = "processed"
	AckDuplicate AckStatus = "duplicate"
	AckIgnored   AckStatus = "ignored"
	AckFlagged   AckStatus = "flagged"
)

type Ack struct {
	Status      AckStatus          `json:"status"`
	OrderID     string             `json:"order_id,omitempty"`
	OrderStatus models.OrderStatus `json:"order_status,omitempty"`
}

type Reconciler struct {
	store    ledger.Store
	journal  ledger.Journal
	registry *providers.Registry
	events   EventLog
	evidence EvidenceArchive
	notifier Notifier
	now      func() time.Time
}

type Options struct {
	Store    ledger.Store
	Journal  ledger.Journal
	Registry *providers.Registry
	Events   EventLog
	Evidence EvidenceArchive
	Notifier Notifier
}

func New(opts Options) *Reconciler {
	return &Reconciler{
		store:    opts.Store,
		journal:  opts.Journal,
		registry: opts.Registry,
		events:   opts.Events,
		evidence: opts.Evidence,
		notifier: opts.Notifier,
		now:      time.Now,
	}
}

// Handle vérifie puis applique un webhook. Toute erreur renvoyée doit produire une réponse non-2xx
// pour que le prestataire relivre.
func (r *Reconciler) Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (Ack, error) {
	adapter, err := r.registry.Get(provider)
	if err != nil {
		return Ack{}, err
	}

	ev, err := adapter.VerifyWebhook(ctx, payload, headers)
	if err != nil {
		if apperr.Is(err, apperr.KindProviderAuthenticity) {
			log.Printf("🚨 Webhook %s rejeté (authenticité): %v", provider, err)
		}
		return Ack{}, err
	}

	if r.events != nil {
		seen, err := r.events.SeenEvent(ctx, provider, ev.EventID)
		if err != nil {
			// sans déduplication on continue : les transitions sont idempotentes
			log.Printf("⚠️ Déduplication %s indisponible: %v", ev.EventID, err)
		}
		if seen {
			log.Printf("🔁 Événement %s/%s déjà traité", provider, ev.EventID)
			return Ack{Status: AckDuplicate}, nil
		}
	}

	target, ok := ev.Kind.Target()
	if !ok || ev.Reference == "" {
		log.Printf("ℹ️ Événement %s ignoré : %s (%s)", provider, ev.EventType, ev.Kind)
		r.markEvent(ctx, provider, ev.EventID)
		return Ack{Status: AckIgnored}, nil
	}

	order, err := r.store.GetByReference(ctx, adapter.Name(), ev.Reference)
	if errors.Is(err, ledger.ErrNotFound) {
		log.Printf("⚠️ Webhook %s %s : aucune commande pour la référence %s", provider, ev.EventType, ev.Reference)
		return Ack{}, apperr.NotFound("aucune commande pour la référence %s", ev.Reference)
	}
	if err != nil {
		return Ack{}, apperr.Internal(err, "lecture commande %s", ev.Reference)
	}

	if conflictsWithTerminal(order.Status, target) {
		return r.flag(ctx, provider, ev, order, target)
	}

	updated, applied, err := ledger.Transition(ctx, r.store, order.OrderID, models.TransitionEvent{
		TargetStatus:      target,
		ProviderReference: ev.Reference,
		OccurredAt:        ev.OccurredAt,
		RawEvidence:       ev.Raw,
		Reason:            ev.EventType,
	}, "webhook:"+provider, r.now)
	if apperr.Is(err, apperr.KindInvalidTransition) {
		current, getErr := r.store.Get(ctx, order.OrderID)
		if getErr != nil {
			return Ack{}, apperr.Internal(getErr, "relecture commande %s", order.OrderID)
		}
		return r.flag(ctx, provider, ev, current, target)
	}
	if err != nil {
		return Ack{}, err
	}

	r.markEvent(ctx, provider, ev.EventID)
	if !applied {
		return Ack{Status: AckDuplicate, OrderID: updated.OrderID, OrderStatus: updated.Status}, nil
	}

	log.Printf("✅ Commande %s → %s (webhook %s %s)", updated.OrderID, updated.Status, provider, ev.EventType)
	if r.notifier != nil {
		r.notifier.OrderChanged(updated.Clone())
	}
	return Ack{Status: AckProcessed, OrderID: updated.OrderID, OrderStatus: updated.Status}, nil
}

// conflictsWithTerminal : un statut terminal ne change que vers lui-même ou via une arête explicite (paid → refunded)
func conflictsWithTerminal(current, target models.OrderStatus) bool {
	return statemachine.Orders.IsTerminal(current) && current != target && !statemachine.Orders.Allowed(current, target)
}

// flag enregistre une revue manuelle au lieu d'appliquer l'événement
func (r *Reconciler) flag(ctx context.Context, provider string, ev providers.VerifiedEvent, order *models.Order, target models.OrderStatus) (Ack, error) {
	review := &models.ManualReview{
		ID:                gocql.TimeUUID(),
		OrderID:           order.OrderID,
		Provider:          provider,
		ProviderReference: ev.Reference,
		EventID:           ev.EventID,
		EventType:         ev.EventType,
		CurrentStatus:     order.Status,
		AttemptedStatus:   target,
		CreatedAt:         r.now().UTC(),
	}

	if r.evidence != nil {
		key := fmt.Sprintf("reviews/%s/%s/%s.json", provider, order.OrderID, review.ID.String())
		if err := r.evidence.Archive(ctx, key, ev.Raw); err != nil {
			log.Printf("⚠️ Preuve %s non archivée: %v", key, err)
		} else {
			review.EvidenceKey = key
		}
	}
	if err := r.journal.RecordReview(ctx, review); err != nil {
		return Ack{}, apperr.Internal(err, "enregistrement revue manuelle %s", order.OrderID)
	}

	log.Printf("🚨 Commande %s en %s : événement %s (%s) vers %s refusé, revue manuelle ouverte",
		order.OrderID, order.Status, ev.EventType, ev.EventID, target)
	r.markEvent(ctx, provider, ev.EventID)
	return Ack{Status: AckFlagged, OrderID: order.OrderID, OrderStatus: order.Status}, nil
}

func (r *Reconciler) markEvent(ctx context.Context, provider, eventID string) {
	if r.events == nil {
		return
	}
	if err := r.events.MarkEvent(ctx, provider, eventID); err != nil {
		log.Printf("⚠️ Événement %s non marqué: %v", eventID, err)
	}
}
