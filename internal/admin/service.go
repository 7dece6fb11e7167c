// Package admin regroupe les opérations d'administration hors tunnel de paiement :
// suppression logique ou définitive, restauration, variantes par lot, statut des réservations.
package admin

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
	"cedra_fulfillment/internal/statemachine"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"

	bulkParallelism = 8
	maxBulkSize     = 500
)

// Actor identifie l'administrateur à l'origine de l'opération
type Actor struct {
	ID    string
	Email string
	Role  string
}

func (a Actor) Elevated() bool { return a.Role == RoleSuperAdmin }

func (a Actor) String() string {
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}

type Service struct {
	orders   ledger.Store
	bookings ledger.BookingStore
	now      func() time.Time
}

func NewService(orders ledger.Store, bookings ledger.BookingStore) *Service {
	return &Service{orders: orders, bookings: bookings, now: time.Now}
}

type DeleteMode string

const (
	DeleteSoft DeleteMode = "soft"
	DeleteHard DeleteMode = "hard"
)

type DeleteResult struct {
	ID      string     `json:"id"`
	Mode    DeleteMode `json:"mode"`
	Changed bool       `json:"changed"`
}

// Rejection décrit un membre d'un lot refusé, avec le Kind de l'erreur
type Rejection struct {
	ID      string      `json:"id"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

type BulkResult struct {
	Deleted  []DeleteResult `json:"deleted"`
	Rejected []Rejection    `json:"rejected"`
}

// --- Commandes ---

// DeleteOrder : suppression logique réservée aux commandes annulées ; hard exige un superadmin et
// supprime quel que soit le statut.
func (s *Service) DeleteOrder(ctx context.Context, actor Actor, orderID, reason string, hard bool) (*DeleteResult, error) {
	if hard {
		if !actor.Elevated() {
			return nil, apperr.PrivilegeDenied("suppression définitive réservée aux superadmins")
		}
		if _, err := s.getOrder(ctx, orderID); err != nil {
			return nil, err
		}
		if err := s.orders.Delete(ctx, orderID); err != nil {
			return nil, apperr.Internal(err, "suppression commande %s", orderID)
		}
		log.Printf("🗑️ Commande %s supprimée définitivement par %s (%s)", orderID, actor, reason)
		return &DeleteResult{ID: orderID, Mode: DeleteHard, Changed: true}, nil
	}

	_, changed, err := ledger.Mutate(ctx, s.orders, orderID, func(o *models.Order) (bool, error) {
		if o.Deleted {
			return false, nil
		}
		if o.Status != models.StatusCancelled {
			return false, apperr.InvalidTransition("order", string(o.Status), "deleted").
				With("reason", "seules les commandes annulées peuvent être supprimées")
		}
		o.MarkDeleted(actor.String(), reason, s.now().UTC())
		return true, nil
	})
	if err != nil {
		return nil, s.orderErr(orderID, err)
	}
	if changed {
		log.Printf("🗑️ Commande %s supprimée logiquement par %s", orderID, actor)
	}
	return &DeleteResult{ID: orderID, Mode: DeleteSoft, Changed: changed}, nil
}

// RestoreOrder efface les champs de suppression logique sans toucher au statut ni à l'historique
func (s *Service) RestoreOrder(ctx context.Context, actor Actor, orderID string) (*models.Order, error) {
	o, changed, err := ledger.Mutate(ctx, s.orders, orderID, func(o *models.Order) (bool, error) {
		if !o.Deleted {
			return false, nil
		}
		o.Clear()
		return true, nil
	})
	if err != nil {
		return nil, s.orderErr(orderID, err)
	}
	if changed {
		log.Printf("♻️ Commande %s restaurée par %s", orderID, actor)
	}
	return o, nil
}

func (s *Service) BulkDeleteOrders(ctx context.Context, actor Actor, ids []string, reason string, hard bool) (*BulkResult, error) {
	return s.bulk(ctx, ids, hard, func(ctx context.Context, id string) (*DeleteResult, error) {
		return s.DeleteOrder(ctx, actor, id, reason, hard)
	})
}

// GetOrder voit aussi les commandes supprimées logiquement
func (s *Service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.getOrder(ctx, orderID)
}

// GetBooking voit aussi les réservations supprimées logiquement
func (s *Service) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.getBooking(ctx, bookingID)
}

func (s *Service) Stats(ctx context.Context) (ledger.Stats, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return ledger.Stats{}, apperr.Internal(err, "calcul des statistiques")
	}
	return stats, nil
}

// --- Réservations ---

func (s *Service) DeleteBooking(ctx context.Context, actor Actor, bookingID, reason string, hard bool) (*DeleteResult, error) {
	if hard {
		if !actor.Elevated() {
			return nil, apperr.PrivilegeDenied("suppression définitive réservée aux superadmins")
		}
		if _, err := s.getBooking(ctx, bookingID); err != nil {
			return nil, err
		}
		if err := s.bookings.DeleteBooking(ctx, bookingID); err != nil {
			return nil, apperr.Internal(err, "suppression réservation %s", bookingID)
		}
		log.Printf("🗑️ Réservation %s supprimée définitivement par %s (%s)", bookingID, actor, reason)
		return &DeleteResult{ID: bookingID, Mode: DeleteHard, Changed: true}, nil
	}

	_, changed, err := ledger.MutateBooking(ctx, s.bookings, bookingID, func(b *models.Booking) (bool, error) {
		if b.Deleted {
			return false, nil
		}
		if b.Status != models.BookingCancelled {
			return false, apperr.InvalidTransition("booking", string(b.Status), "deleted").
				With("reason", "seules les réservations annulées peuvent être supprimées")
		}
		b.MarkDeleted(actor.String(), reason, s.now().UTC())
		return true, nil
	})
	if err != nil {
		return nil, s.bookingErr(bookingID, err)
	}
	if changed {
		log.Printf("🗑️ Réservation %s supprimée logiquement par %s", bookingID, actor)
	}
	return &DeleteResult{ID: bookingID, Mode: DeleteSoft, Changed: changed}, nil
}

func (s *Service) RestoreBooking(ctx context.Context, actor Actor, bookingID string) (*models.Booking, error) {
	b, changed, err := ledger.MutateBooking(ctx, s.bookings, bookingID, func(b *models.Booking) (bool, error) {
		if !b.Deleted {
			return false, nil
		}
		b.Clear()
		return true, nil
	})
	if err != nil {
		return nil, s.bookingErr(bookingID, err)
	}
	if changed {
		log.Printf("♻️ Réservation %s restaurée par %s", bookingID, actor)
	}
	return b, nil
}

func (s *Service) BulkDeleteBookings(ctx context.Context, actor Actor, ids []string, reason string, hard bool) (*BulkResult, error) {
	return s.bulk(ctx, ids, hard, func(ctx context.Context, id string) (*DeleteResult, error) {
		return s.DeleteBooking(ctx, actor, id, reason, hard)
	})
}

// TransitionBooking passe une réservation par la même machine à états que les commandes
func (s *Service) TransitionBooking(ctx context.Context, actor Actor, bookingID string, target models.BookingStatus, reason string) (*models.Booking, error) {
	b, changed, err := ledger.MutateBooking(ctx, s.bookings, bookingID, func(b *models.Booking) (bool, error) {
		if b.Deleted {
			return false, apperr.NotFound("réservation %s introuvable", bookingID)
		}
		return statemachine.ApplyBookingTransition(b, target, reason, actor.String(), s.now())
	})
	if err != nil {
		return nil, s.bookingErr(bookingID, err)
	}
	if changed {
		log.Printf("📅 Réservation %s → %s par %s", bookingID, b.Status, actor)
	}
	return b, nil
}

// --- interne ---

// bulk applique op à chaque membre ; un refus n'interrompt jamais le reste du lot
func (s *Service) bulk(ctx context.Context, ids []string, hard bool, op func(context.Context, string) (*DeleteResult, error)) (*BulkResult, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, apperr.Validation("liste d'identifiants vide")
	}
	if len(ids) > maxBulkSize {
		return nil, apperr.Validation("au plus %d identifiants par lot", maxBulkSize).With("count", len(ids))
	}

	var (
		mu     sync.Mutex
		result = &BulkResult{Deleted: []DeleteResult{}, Rejected: []Rejection{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkParallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := op(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Rejected = append(result.Rejected, Rejection{ID: id, Kind: apperr.KindOf(err), Message: err.Error()})
				return nil
			}
			result.Deleted = append(result.Deleted, *res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Printf("📦 Suppression par lot (hard=%v): %d supprimés, %d refusés", hard, len(result.Deleted), len(result.Rejected))
	return result, nil
}

func (s *Service) getOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, s.orderErr(orderID, err)
	}
	return o, nil
}

func (s *Service) getBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, s.bookingErr(bookingID, err)
	}
	return b, nil
}

func (s *Service) orderErr(orderID string, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.NotFound("commande %s introuvable", orderID)
	default:
		return apperr.Internal(err, "commande %s", orderID)
	}
}

func (s *Service) bookingErr(bookingID string, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.NotFound("réservation %s introuvable", bookingID)
	default:
		return apperr.Internal(err, "réservation %s", bookingID)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
