// Package ledger est la couche d'accès au registre des commandes (et des réservations).
// Toute écriture est un compare-and-swap sur Version : deux écrivains concurrents
// d'une même commande ne peuvent pas entrelacer leurs historiques.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"

	"cedra_fulfillment/internal/models"
)

var (
	ErrNotFound        = errors.New("ledger: introuvable")
	ErrVersionConflict = errors.New("ledger: conflit de version")
	ErrDuplicate       = errors.New("ledger: doublon")
)

const maxMutateAttempts = 5

type Store interface {
	Create(ctx context.Context, o *models.Order) error
	// Get renvoie aussi les commandes supprimées logiquement (restauration, admin)
	Get(ctx context.Context, orderID string) (*models.Order, error)
	GetByReference(ctx context.Context, provider, reference string) (*models.Order, error)
	// Update écrit o si la version stockée vaut encore o.Version, puis incrémente o.Version
	Update(ctx context.Context, o *models.Order) error
	// ClaimReference réserve (provider, reference) pour une commande ; ErrDuplicate si déjà prise par une autre
	ClaimReference(ctx context.Context, provider, reference string, key gocql.UUID) error
	// ReleaseReference libère (provider, reference) seulement si elle appartient encore à key
	ReleaseReference(ctx context.Context, provider, reference string, key gocql.UUID) error
	Delete(ctx context.Context, orderID string) error
	ListByOwner(ctx context.Context, ownerRef string) ([]*models.Order, error)
	ListStale(ctx context.Context, status models.OrderStatus, updatedBefore time.Time, limit int) ([]*models.Order, error)
	Stats(ctx context.Context) (Stats, error)
}

type BookingStore interface {
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	DeleteBooking(ctx context.Context, bookingID string) error
}

// Journal conserve les éléments annexes du tunnel : revues manuelles et remboursements
type Journal interface {
	RecordReview(ctx context.Context, r *models.ManualReview) error
	Reviews(ctx context.Context, limit int) ([]models.ManualReview, error)
	RecordRefund(ctx context.Context, r *models.Refund) error
}

// Stats exclut les commandes supprimées logiquement
type Stats struct {
	TotalOrders int                        `json:"total_orders"`
	ByStatus    map[models.OrderStatus]int `json:"by_status"`
	Revenue     decimal.Decimal            `json:"total_revenue"`
}

func (s *Stats) add(o *models.Order) {
	if o.Deleted {
		return
	}
	if s.ByStatus == nil {
		s.ByStatus = make(map[models.OrderStatus]int)
	}
	s.TotalOrders++
	s.ByStatus[o.Status]++
	if o.Status == models.StatusPaid {
		s.Revenue = s.Revenue.Add(o.Amounts.Total)
	}
}

// plus récentes d'abord
func sortReviews(reviews []models.ManualReview) {
	sort.SliceStable(reviews, func(i, j int) bool { return reviews[i].CreatedAt.After(reviews[j].CreatedAt) })
}

// Mutate relit la commande, applique fn puis écrit en CAS. fn renvoie false quand il n'y a rien à écrire.
// En cas de course, fn est rejouée sur la version fraîche.
func Mutate(ctx context.Context, s Store, orderID string, fn func(o *models.Order) (bool, error)) (*models.Order, bool, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		current, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		before := current.ProviderReference

		changed, err := fn(current)
		if err != nil {
			return current, false, err
		}
		if !changed {
			return current, false, nil
		}

		claimed := before == "" && current.ProviderReference != ""
		if claimed {
			if err := s.ClaimReference(ctx, current.Provider, current.ProviderReference, current.Key); err != nil {
				return nil, false, fmt.Errorf("réservation référence %s: %w", current.ProviderReference, err)
			}
		}

		err = s.Update(ctx, current)
		if err != nil && claimed {
			releaseOrphan(ctx, s, current)
		}
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return current, true, nil
	}
	return nil, false, fmt.Errorf("commande %s: %w après %d tentatives", orderID, ErrVersionConflict, maxMutateAttempts)
}

// releaseOrphan libère la référence réservée par une écriture perdue, sauf si la version gagnante la porte aussi
func releaseOrphan(ctx context.Context, s Store, lost *models.Order) {
	ctx = context.WithoutCancel(ctx)
	if fresh, err := s.Get(ctx, lost.OrderID); err == nil &&
		fresh.Provider == lost.Provider && fresh.ProviderReference == lost.ProviderReference {
		return
	}
	if err := s.ReleaseReference(ctx, lost.Provider, lost.ProviderReference, lost.Key); err != nil {
		log.Printf("⚠️ Référence %s/%s orpheline pour %s: %v", lost.Provider, lost.ProviderReference, lost.OrderID, err)
	}
}

func MutateBooking(ctx context.Context, s BookingStore, bookingID string, fn func(b *models.Booking) (bool, error)) (*models.Booking, bool, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		current, err := s.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(current)
		if err != nil {
			return current, false, err
		}
		if !changed {
			return current, false, nil
		}
		err = s.UpdateBooking(ctx, current)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return current, true, nil
	}
	return nil, false, fmt.Errorf("réservation %s: %w après %d tentatives", bookingID, ErrVersionConflict, maxMutateAttempts)
}
