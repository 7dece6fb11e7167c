package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gocql/gocql"

	"cedra_fulfillment/internal/models"
)

// Schéma : scripts/orders_init.cql
const orderColumns = `order_key, order_id, owner_ref, guest_email, contact_email, line_items, amounts, currency,
	status, status_history, provider, provider_reference, provider_session_url, idempotency_key,
	deleted, deleted_at, deleted_by, deletion_reason, version, created_at, updated_at`

// ScyllaStore est le registre des commandes sur le keyspace orders
type ScyllaStore struct {
	session *gocql.Session
}

func NewScyllaStore(session *gocql.Session) *ScyllaStore {
	return &ScyllaStore{session: session}
}

type orderRow struct {
	key            gocql.UUID
	orderID        string
	ownerRef       string
	guestEmail     string
	contactEmail   string
	lineItems      string
	amounts        string
	currency       string
	status         string
	history        string
	provider       string
	reference      string
	sessionURL     string
	idemKey        string
	deleted        bool
	deletedAt      time.Time
	deletedBy      string
	deletionReason string
	version        int
	createdAt      time.Time
	updatedAt      time.Time
}

func (r *orderRow) dest() []interface{} {
	return []interface{}{
		&r.key, &r.orderID, &r.ownerRef, &r.guestEmail, &r.contactEmail, &r.lineItems, &r.amounts, &r.currency,
		&r.status, &r.history, &r.provider, &r.reference, &r.sessionURL, &r.idemKey,
		&r.deleted, &r.deletedAt, &r.deletedBy, &r.deletionReason, &r.version, &r.createdAt, &r.updatedAt,
	}
}

func (r *orderRow) toOrder() (*models.Order, error) {
	o := &models.Order{
		Key:                r.key,
		OrderID:            r.orderID,
		OwnerRef:           r.ownerRef,
		GuestEmail:         r.guestEmail,
		ContactEmail:       r.contactEmail,
		Currency:           r.currency,
		Status:             models.OrderStatus(r.status),
		Provider:           r.provider,
		ProviderReference:  r.reference,
		ProviderSessionURL: r.sessionURL,
		IdempotencyKey:     r.idemKey,
		Version:            r.version,
		CreatedAt:          r.createdAt,
		UpdatedAt:          r.updatedAt,
	}
	if err := json.Unmarshal([]byte(r.lineItems), &o.LineItems); err != nil {
		return nil, fmt.Errorf("décodage line_items %s: %w", r.orderID, err)
	}
	if err := json.Unmarshal([]byte(r.amounts), &o.Amounts); err != nil {
		return nil, fmt.Errorf("décodage amounts %s: %w", r.orderID, err)
	}
	if err := json.Unmarshal([]byte(r.history), &o.StatusHistory); err != nil {
		return nil, fmt.Errorf("décodage status_history %s: %w", r.orderID, err)
	}
	if r.deleted {
		at := r.deletedAt
		o.SoftDelete = models.SoftDelete{Deleted: true, DeletedAt: &at, DeletedBy: r.deletedBy, DeletionReason: r.deletionReason}
	}
	return o, nil
}

type encodedOrder struct {
	lineItems, amounts, history string
	deletedAt                   *time.Time
}

func encodeOrder(o *models.Order) (encodedOrder, error) {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return encodedOrder{}, err
	}
	amounts, err := json.Marshal(o.Amounts)
	if err != nil {
		return encodedOrder{}, err
	}
	history, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return encodedOrder{}, err
	}
	return encodedOrder{string(items), string(amounts), string(history), o.DeletedAt}, nil
}

func (s *ScyllaStore) Create(ctx context.Context, o *models.Order) error {
	enc, err := encodeOrder(o)
	if err != nil {
		return err
	}

	// order_id est l'identifiant public : unicité par LWT
	applied, err := s.session.Query(`INSERT INTO orders_by_number (order_id, order_key) VALUES (?, ?) IF NOT EXISTS`,
		o.OrderID, o.Key).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("insertion orders_by_number: %w", err)
	}
	if !applied {
		return ErrDuplicate
	}

	if o.ProviderReference != "" {
		if err := s.ClaimReference(ctx, o.Provider, o.ProviderReference, o.Key); err != nil {
			if derr := s.session.Query(`DELETE FROM orders_by_number WHERE order_id = ?`, o.OrderID).WithContext(ctx).Exec(); derr != nil {
				log.Printf("⚠️ Nettoyage orders_by_number %s impossible: %v", o.OrderID, derr)
			}
			return err
		}
	}

	o.Version = 1
	err = s.session.Query(`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Key, o.OrderID, o.OwnerRef, o.GuestEmail, o.ContactEmail, enc.lineItems, enc.amounts, o.Currency,
		string(o.Status), enc.history, o.Provider, o.ProviderReference, o.ProviderSessionURL, o.IdempotencyKey,
		o.Deleted, enc.deletedAt, o.DeletedBy, o.DeletionReason, o.Version, o.CreatedAt, o.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insertion orders: %w", err)
	}
	return nil
}

func (s *ScyllaStore) lookupKey(ctx context.Context, orderID string) (gocql.UUID, error) {
	var key gocql.UUID
	err := s.session.Query(`SELECT order_key FROM orders_by_number WHERE order_id = ?`, orderID).
		WithContext(ctx).Scan(&key)
	if errors.Is(err, gocql.ErrNotFound) {
		return key, ErrNotFound
	}
	return key, err
}

func (s *ScyllaStore) getByKey(ctx context.Context, key gocql.UUID) (*models.Order, error) {
	var row orderRow
	err := s.session.Query(`SELECT `+orderColumns+` FROM orders WHERE order_key = ?`, key).
		WithContext(ctx).Scan(row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toOrder()
}

func (s *ScyllaStore) Get(ctx context.Context, orderID string) (*models.Order, error) {
	key, err := s.lookupKey(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.getByKey(ctx, key)
}

func (s *ScyllaStore) GetByReference(ctx context.Context, provider, reference string) (*models.Order, error) {
	var key gocql.UUID
	err := s.session.Query(`SELECT order_key FROM orders_by_reference WHERE provider = ? AND provider_reference = ?`,
		provider, reference).WithContext(ctx).Scan(&key)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.getByKey(ctx, key)
}

func (s *ScyllaStore) Update(ctx context.Context, o *models.Order) error {
	enc, err := encodeOrder(o)
	if err != nil {
		return err
	}

	applied, err := s.session.Query(`UPDATE orders SET status = ?, status_history = ?, provider_reference = ?,
		provider_session_url = ?, deleted = ?, deleted_at = ?, deleted_by = ?, deletion_reason = ?,
		version = ?, updated_at = ? WHERE order_key = ? IF version = ?`,
		string(o.Status), enc.history, o.ProviderReference, o.ProviderSessionURL,
		o.Deleted, enc.deletedAt, o.DeletedBy, o.DeletionReason,
		o.Version+1, o.UpdatedAt, o.Key, o.Version,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("mise à jour orders %s: %w", o.OrderID, err)
	}
	if !applied {
		return ErrVersionConflict
	}
	o.Version++
	return nil
}

func (s *ScyllaStore) ClaimReference(ctx context.Context, provider, reference string, key gocql.UUID) error {
	existing := map[string]interface{}{}
	applied, err := s.session.Query(`INSERT INTO orders_by_reference (provider, provider_reference, order_key)
		VALUES (?, ?, ?) IF NOT EXISTS`, provider, reference, key).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return fmt.Errorf("insertion orders_by_reference: %w", err)
	}
	if applied {
		return nil
	}
	if owner, ok := existing["order_key"].(gocql.UUID); ok && owner == key {
		return nil
	}
	return ErrDuplicate
}

func (s *ScyllaStore) ReleaseReference(ctx context.Context, provider, reference string, key gocql.UUID) error {
	_, err := s.session.Query(`DELETE FROM orders_by_reference WHERE provider = ? AND provider_reference = ? IF order_key = ?`,
		provider, reference, key).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("suppression orders_by_reference: %w", err)
	}
	return nil
}

// Delete est irréversible : la commande et ses index disparaissent
func (s *ScyllaStore) Delete(ctx context.Context, orderID string) error {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}

	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM orders WHERE order_key = ?`, o.Key)
	b.Query(`DELETE FROM orders_by_number WHERE order_id = ?`, o.OrderID)
	if o.ProviderReference != "" {
		b.Query(`DELETE FROM orders_by_reference WHERE provider = ? AND provider_reference = ?`, o.Provider, o.ProviderReference)
	}
	return s.session.ExecuteBatch(b)
}

func (s *ScyllaStore) scan(ctx context.Context, keep func(*models.Order) bool, stmt string, args ...interface{}) ([]*models.Order, error) {
	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()

	var out []*models.Order
	var row orderRow
	for iter.Scan(row.dest()...) {
		o, err := row.toOrder()
		if err != nil {
			iter.Close()
			return nil, err
		}
		if keep(o) {
			out = append(out, o)
		}
		row = orderRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ScyllaStore) ListByOwner(ctx context.Context, ownerRef string) ([]*models.Order, error) {
	return s.scan(ctx, func(o *models.Order) bool { return !o.Deleted },
		`SELECT `+orderColumns+` FROM orders WHERE owner_ref = ? ALLOW FILTERING`, ownerRef)
}

func (s *ScyllaStore) ListStale(ctx context.Context, status models.OrderStatus, updatedBefore time.Time, limit int) ([]*models.Order, error) {
	out, err := s.scan(ctx, func(o *models.Order) bool { return !o.Deleted && o.UpdatedAt.Before(updatedBefore) },
		`SELECT `+orderColumns+` FROM orders WHERE status = ? ALLOW FILTERING`, string(status))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ScyllaStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	_, err := s.scan(ctx, func(o *models.Order) bool {
		stats.add(o)
		return false
	}, `SELECT `+orderColumns+` FROM orders`)
	return stats, err
}
