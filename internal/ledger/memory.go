package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"cedra_fulfillment/internal/models"
)

// MemoryStore implémente Store, BookingStore et Journal en mémoire avec le même contrat CAS
// que ScyllaStore. Utilisé en test et en développement sans cluster.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order // order_id → commande
	refs     map[string]gocql.UUID    // provider|reference → order_key
	bookings map[string]*models.Booking
	reviews  []models.ManualReview
	refunds  []models.Refund
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		refs:     make(map[string]gocql.UUID),
		bookings: make(map[string]*models.Booking),
	}
}

func refKey(provider, reference string) string {
	return provider + "|" + reference
}

func (m *MemoryStore) Create(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[o.OrderID]; exists {
		return ErrDuplicate
	}
	if o.ProviderReference != "" {
		if owner, taken := m.refs[refKey(o.Provider, o.ProviderReference)]; taken && owner != o.Key {
			return ErrDuplicate
		}
		m.refs[refKey(o.Provider, o.ProviderReference)] = o.Key
	}
	o.Version = 1
	m.orders[o.OrderID] = o.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) GetByReference(_ context.Context, provider, reference string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.refs[refKey(provider, reference)]
	if !ok {
		return nil, ErrNotFound
	}
	for _, o := range m.orders {
		if o.Key == key {
			return o.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[o.OrderID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != o.Version {
		return ErrVersionConflict
	}
	o.Version++
	m.orders[o.OrderID] = o.Clone()
	return nil
}

func (m *MemoryStore) ClaimReference(_ context.Context, provider, reference string, key gocql.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, taken := m.refs[refKey(provider, reference)]; taken && owner != key {
		return ErrDuplicate
	}
	m.refs[refKey(provider, reference)] = key
	return nil
}

func (m *MemoryStore) ReleaseReference(_ context.Context, provider, reference string, key gocql.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.refs[refKey(provider, reference)]; ok && owner == key {
		delete(m.refs, refKey(provider, reference))
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.ProviderReference != "" {
		delete(m.refs, refKey(o.Provider, o.ProviderReference))
	}
	delete(m.orders, orderID)
	return nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerRef string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, o := range m.orders {
		if o.OwnerRef == ownerRef && !o.Deleted {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListStale(_ context.Context, status models.OrderStatus, updatedBefore time.Time, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, o := range m.orders {
		if o.Status == status && !o.Deleted && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, o := range m.orders {
		s.add(o)
	}
	return s, nil
}

// PutBooking enregistre une réservation telle quelle (les réservations sont créées hors de ce service)
func (m *MemoryStore) PutBooking(b *models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Version == 0 {
		b.Version = 1
	}
	m.bookings[b.BookingID] = b.Clone()
}

func (m *MemoryStore) GetBooking(_ context.Context, bookingID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryStore) UpdateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.bookings[b.BookingID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != b.Version {
		return ErrVersionConflict
	}
	b.Version++
	m.bookings[b.BookingID] = b.Clone()
	return nil
}

func (m *MemoryStore) DeleteBooking(_ context.Context, bookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[bookingID]; !ok {
		return ErrNotFound
	}
	delete(m.bookings, bookingID)
	return nil
}

func (m *MemoryStore) RecordReview(_ context.Context, r *models.ManualReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, *r)
	return nil
}

func (m *MemoryStore) Reviews(_ context.Context, limit int) ([]models.ManualReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]models.ManualReview(nil), m.reviews...)
	sortReviews(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) RecordRefund(_ context.Context, r *models.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, *r)
	return nil
}

// Refunds est réservé aux tests
func (m *MemoryStore) Refunds() []models.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Refund(nil), m.refunds...)
}

// Count renvoie le nombre de commandes persistées, supprimées logiquement comprises
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}
