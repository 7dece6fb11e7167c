// Package notify déclenche les effets de bord d'une transition validée (pub/sub Redis, e-mail)
// sans jamais bloquer ni annuler la transition elle-même.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"cedra_fulfillment/internal/models"
)

type Dispatcher struct {
	mailer    Mailer
	publisher Publisher
	queue     chan *models.Order
	workers   int
	attempts  int
	baseDelay time.Duration
	// délai accordé aux workers pour vider la file après l'arrêt
	drainTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(mailer Mailer, publisher Publisher, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 256
	}
	return &Dispatcher{
		mailer:    mailer,
		publisher: publisher,
		queue:     make(chan *models.Order, queueSize),
		workers:   workers,
		attempts:     3,
		baseDelay:    500 * time.Millisecond,
		drainTimeout: 10 * time.Second,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	log.Printf("📨 Dispatcher de notifications démarré (%d workers)", d.workers)
}

// OrderChanged met la notification en file ; file pleine ou fermée = notification perdue et tracée
func (d *Dispatcher) OrderChanged(o *models.Order) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("⚠️ Notification %s ignorée : dispatcher arrêté", o.OrderID)
		return
	}
	select {
	case d.queue <- o:
	default:
		log.Printf("⚠️ File de notifications pleine, %s (%s) abandonnée", o.OrderID, o.Status)
	}
}

// Close ferme la file et attend que les workers aient livré ce qui restait
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case o, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, o)
		case <-ctx.Done():
			d.drain(ctx)
			return
		}
	}
}

// drain livre ce qui reste en file après l'annulation de ctx, jusqu'à Close ou drainTimeout
func (d *Dispatcher) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.drainTimeout)
	defer cancel()
	for {
		select {
		case o, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(dctx, o)
		case <-dctx.Done():
			log.Printf("⚠️ Arrêt: %d notifications encore en file abandonnées", len(d.queue))
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, o *models.Order) {
	if d.publisher != nil {
		msg, _ := json.Marshal(StatusMessage{OrderID: o.OrderID, Status: o.Status, UpdatedAt: o.UpdatedAt})
		if err := d.retry(ctx, func() error { return d.publisher.Publish(ctx, StatusChannel(o.OrderID), msg) }); err != nil {
			log.Printf("❌ Publication statut %s échouée: %v", o.OrderID, err)
		}
	}

	if d.mailer == nil || o.ContactEmail == "" || !emailWorthy(o.Status) {
		return
	}
	err := d.retry(ctx, func() error {
		return d.mailer.Send(ctx, o.ContactEmail, statusSubject(o.Status), statusBody(o))
	})
	if err != nil {
		log.Printf("❌ Erreur envoi email statut %s (%s): %v", o.OrderID, o.Status, err)
		return
	}
	log.Printf("📧 Email de statut envoyé: %s → %s", o.Status, o.OrderID)
}

func (d *Dispatcher) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < d.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.baseDelay << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%d tentatives: %w", d.attempts, err)
}
