// Package checkout transforme un panier en commande et pilote le prestataire de paiement.
// Il ne dépend que de providers.Adapter, jamais d'un prestataire concret.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/idempotency"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
	"cedra_fulfillment/internal/providers"
	"cedra_fulfillment/internal/statemachine"
)

// Reservations est le contrat du garde d'idempotence
type Reservations interface {
	Reserve(ctx context.Context, key, candidateOrderID string) (idempotency.Reservation, error)
	Release(ctx context.Context, key, orderID string) error
}

// Notifier reçoit chaque transition validée ; ne doit jamais bloquer
type Notifier interface {
	OrderChanged(o *models.Order)
}

type Service struct {
	store    ledger.Store
	journal  ledger.Journal
	guard    Reservations
	registry *providers.Registry
	catalog  PriceCatalog
	notifier Notifier
	currency string

	now        func() time.Time
	newOrderID func() string
	// attente du gagnant d'une course d'idempotence avant de répondre 409 sans commande
	duplicateWait time.Duration
}

type Options struct {
	Store    ledger.Store
	Journal  ledger.Journal
	Guard    Reservations
	Registry *providers.Registry
	Catalog  PriceCatalog
	Notifier Notifier
	Currency string
}

func NewService(opts Options) *Service {
	return &Service{
		store:         opts.Store,
		journal:       opts.Journal,
		guard:         opts.Guard,
		registry:      opts.Registry,
		catalog:       opts.Catalog,
		notifier:      opts.Notifier,
		currency:      opts.Currency,
		now:           time.Now,
		newOrderID:    NewOrderID,
		duplicateWait: 2 * time.Second,
	}
}

// NewOrderID produit l'identifiant public partageable (distinct de la clé de stockage)
func NewOrderID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "CMD-" + time.Now().UTC().Format("060102") + "-" + id[:10]
}

type LineInput struct {
	ProductRef string          `json:"product_ref" binding:"required"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity" binding:"required"`
}

type Request struct {
	Items          []LineInput     `json:"items"`
	Shipping       decimal.Decimal `json:"shipping"`
	Tax            decimal.Decimal `json:"tax"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Provider       string          `json:"provider"`
	IdempotencyKey string          `json:"idempotency_key"`
	AttemptID      string          `json:"attempt_id"`
	GuestEmail     string          `json:"guest_email"`

	// renseignés depuis le JWT, jamais depuis le corps
	OwnerRef     string `json:"-"`
	AccountEmail string `json:"-"`
}

type Result struct {
	Order   *models.Order
	Session providers.Session
	// Duplicate : la clé appartenait déjà à une commande, renvoyée telle quelle
	Duplicate bool
}

func (r Request) actor() string {
	if r.OwnerRef != "" {
		return r.OwnerRef
	}
	return "guest:" + r.GuestEmail
}

func (r Request) validate() error {
	if len(r.Items) == 0 {
		return apperr.Validation("panier vide")
	}
	for i, it := range r.Items {
		if it.ProductRef == "" {
			return apperr.Validation("ligne %d: product_ref requis", i)
		}
		if it.Quantity <= 0 {
			return apperr.Validation("ligne %d: quantité invalide (%d)", i, it.Quantity)
		}
		if it.UnitPrice.IsNegative() {
			return apperr.Validation("ligne %d: prix négatif", i)
		}
	}
	if r.Shipping.IsNegative() || r.Tax.IsNegative() || r.Discount.IsNegative() {
		return apperr.Validation("frais, taxe et remise doivent être positifs")
	}
	if r.OwnerRef == "" && !strings.Contains(r.GuestEmail, "@") {
		return apperr.Validation("guest_email requis pour une commande invité")
	}
	if r.IdempotencyKey == "" && r.AttemptID == "" {
		return apperr.Validation("idempotency_key ou attempt_id requis")
	}
	return nil
}

func (r Request) key() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	owner := r.OwnerRef
	if owner == "" {
		owner = strings.ToLower(r.GuestEmail)
	}
	return idempotency.DeriveKey(owner, r.AttemptID)
}

// Checkout : garde d'idempotence → commande provisoire → session prestataire
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	lines, amounts := providers.Recompute(lines, req.Shipping, req.Tax, req.Discount)
	if amounts.Total.IsNegative() {
		return nil, apperr.Validation("remise supérieure au montant de la commande")
	}
	if err := providers.CheckDeclared(req.Total, amounts.Total); err != nil {
		return nil, err
	}

	key := req.key()
	reservation, err := s.guard.Reserve(ctx, key, s.newOrderID())
	if err != nil {
		return nil, apperr.Internal(err, "garde d'idempotence indisponible")
	}
	if !reservation.Fresh {
		res, err := s.duplicate(ctx, req, reservation.OrderID)
		if !errors.Is(err, errWinnerGone) {
			return res, err
		}
		// le gagnant n'a rien persisté : la clé est peut-être libre à nouveau
		reservation, err = s.guard.Reserve(ctx, key, s.newOrderID())
		if err != nil {
			return nil, apperr.Internal(err, "garde d'idempotence indisponible")
		}
		if !reservation.Fresh {
			log.Printf("⚠️ Clé %s toujours tenue par %s sans commande persistée", key, reservation.OrderID)
			return nil, apperr.ProviderUnavailable(adapter.Name(), errWinnerGone)
		}
	}

	now := s.now().UTC()
	contact := req.GuestEmail
	if req.OwnerRef != "" {
		contact = req.AccountEmail
	}
	order := &models.Order{
		Key:            gocql.TimeUUID(),
		OrderID:        reservation.OrderID,
		OwnerRef:       req.OwnerRef,
		GuestEmail:     req.GuestEmail,
		ContactEmail:   contact,
		LineItems:      lines,
		Amounts:        amounts,
		Currency:       s.currency,
		Status:         models.StatusPending,
		StatusHistory:  statemachine.NewOrderHistory(req.actor(), now),
		Provider:       adapter.Name(),
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if adapter.SessionFirst() {
		return s.sessionFirst(ctx, adapter, order, key, req.actor())
	}

	if err := s.store.Create(ctx, order); err != nil {
		s.release(ctx, key, order.OrderID)
		return nil, apperr.Internal(err, "création de la commande %s", order.OrderID)
	}
	log.Printf("🧾 Commande %s créée (%s %s, %s)", order.OrderID, amounts.Total.StringFixed(2), order.Currency, adapter.Name())

	return s.openSession(ctx, adapter, order, req.actor())
}

// sessionFirst : la commande n'existe qu'une fois la session acceptée par le prestataire
func (s *Service) sessionFirst(ctx context.Context, adapter providers.Adapter, order *models.Order, key, actor string) (*Result, error) {
	sess, err := adapter.Initiate(ctx, order)
	if err != nil {
		s.release(ctx, key, order.OrderID)
		return nil, err
	}

	ev := models.TransitionEvent{TargetStatus: models.StatusAwaitingPayment, ProviderReference: sess.Reference, Reason: "session ouverte"}
	if _, err := statemachine.ApplyOrderEvent(order, ev, actor, s.now()); err != nil {
		s.release(ctx, key, order.OrderID)
		return nil, err
	}
	order.ProviderSessionURL = sess.RedirectURL

	if err := s.store.Create(ctx, order); err != nil {
		s.release(ctx, key, order.OrderID)
		return nil, apperr.Internal(err, "création de la commande %s", order.OrderID)
	}
	log.Printf("🧾 Commande %s créée avec la session %s", order.OrderID, sess.Reference)
	s.notify(order)
	return &Result{Order: order, Session: sess}, nil
}

// openSession ouvre la session d'une commande pending déjà persistée. En cas d'échec la commande
// reste pending et un nouvel essai avec la même clé reprend ici.
func (s *Service) openSession(ctx context.Context, adapter providers.Adapter, order *models.Order, actor string) (*Result, error) {
	sess, err := adapter.Initiate(ctx, order)
	if err != nil {
		log.Printf("⚠️ Ouverture de session %s échouée pour %s: %v", adapter.Name(), order.OrderID, err)
		return nil, err
	}

	updated, _, err := ledger.Mutate(ctx, s.store, order.OrderID, func(o *models.Order) (bool, error) {
		ev := models.TransitionEvent{TargetStatus: models.StatusAwaitingPayment, ProviderReference: sess.Reference, Reason: "session ouverte"}
		applied, err := statemachine.ApplyOrderEvent(o, ev, actor, s.now())
		if err != nil {
			return false, err
		}
		if o.ProviderSessionURL != sess.RedirectURL {
			o.ProviderSessionURL = sess.RedirectURL
			applied = true
		}
		return applied, nil
	})
	if err != nil {
		return nil, fmt.Errorf("enregistrement session %s: %w", order.OrderID, err)
	}
	s.notify(updated)
	return &Result{Order: updated, Session: sess}, nil
}

// errWinnerGone : la clé est réservée mais aucune commande n'a été persistée dans le délai
var errWinnerGone = errors.New("checkout concurrent sans commande persistée")

// duplicate renvoie la commande déjà associée à la clé. La reprise de session passe toujours par
// le prestataire qui porte la commande, jamais par celui de la nouvelle requête.
func (s *Service) duplicate(ctx context.Context, req Request, orderID string) (*Result, error) {
	existing, err := s.awaitOrder(ctx, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, errWinnerGone
	}
	if err != nil {
		return nil, err
	}

	if existing.Status == models.StatusPending && existing.ProviderReference == "" && req.Provider == existing.Provider {
		adapter, err := s.registry.Get(existing.Provider)
		if err != nil {
			return nil, err
		}
		if !adapter.SessionFirst() {
			log.Printf("🔁 Reprise de l'ouverture de session pour %s", existing.OrderID)
			res, err := s.openSession(ctx, adapter, existing, req.actor())
			if err != nil {
				return nil, err
			}
			res.Duplicate = true
			return res, nil
		}
	}
	if req.Provider != existing.Provider {
		log.Printf("⚠️ Checkout dupliqué %s avec %s, la commande reste chez %s", existing.OrderID, req.Provider, existing.Provider)
	}

	log.Printf("🔁 Checkout dupliqué, commande existante %s renvoyée", existing.OrderID)
	return &Result{
		Order:     existing,
		Session:   providers.Session{Reference: existing.ProviderReference, RedirectURL: existing.ProviderSessionURL},
		Duplicate: true,
	}, nil
}

func (s *Service) awaitOrder(ctx context.Context, orderID string) (*models.Order, error) {
	deadline := s.now().Add(s.duplicateWait)
	for {
		o, err := s.store.Get(ctx, orderID)
		if !errors.Is(err, ledger.ErrNotFound) || !s.now().Before(deadline) {
			return o, err
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Service) release(ctx context.Context, key, orderID string) {
	if err := s.guard.Release(context.WithoutCancel(ctx), key, orderID); err != nil {
		log.Printf("⚠️ Libération de la clé d'idempotence %s impossible: %v", key, err)
	}
}

func (s *Service) notify(o *models.Order) {
	if s.notifier != nil && o != nil {
		s.notifier.OrderChanged(o.Clone())
	}
}
