package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"cedra_fulfillment/internal/models"
)

func (s *ScyllaStore) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	var (
		b              models.Booking
		status         string
		history        string
		deleted        bool
		deletedAt      time.Time
		deletedBy      string
		deletionReason string
	)
	err := s.session.Query(`SELECT booking_key, booking_id, owner_ref, resource_ref, starts_at, status, status_history,
		deleted, deleted_at, deleted_by, deletion_reason, version, created_at, updated_at
		FROM bookings WHERE booking_id = ?`, bookingID).WithContext(ctx).Scan(
		&b.Key, &b.BookingID, &b.OwnerRef, &b.ResourceRef, &b.StartsAt, &status, &history,
		&deleted, &deletedAt, &deletedBy, &deletionReason, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingStatus(status)
	if err := json.Unmarshal([]byte(history), &b.StatusHistory); err != nil {
		return nil, fmt.Errorf("décodage historique réservation %s: %w", bookingID, err)
	}
	if deleted {
		b.SoftDelete = models.SoftDelete{Deleted: true, DeletedAt: &deletedAt, DeletedBy: deletedBy, DeletionReason: deletionReason}
	}
	return &b, nil
}

func (s *ScyllaStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	history, err := json.Marshal(b.StatusHistory)
	if err != nil {
		return err
	}

	applied, err := s.session.Query(`UPDATE bookings SET status = ?, status_history = ?, deleted = ?, deleted_at = ?,
		deleted_by = ?, deletion_reason = ?, version = ?, updated_at = ? WHERE booking_id = ? IF version = ?`,
		string(b.Status), string(history), b.Deleted, b.DeletedAt, b.DeletedBy, b.DeletionReason,
		b.Version+1, b.UpdatedAt, b.BookingID, b.Version,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("mise à jour réservation %s: %w", b.BookingID, err)
	}
	if !applied {
		return ErrVersionConflict
	}
	b.Version++
	return nil
}

func (s *ScyllaStore) DeleteBooking(ctx context.Context, bookingID string) error {
	if _, err := s.GetBooking(ctx, bookingID); err != nil {
		return err
	}
	return s.session.Query(`DELETE FROM bookings WHERE booking_id = ?`, bookingID).WithContext(ctx).Exec()
}

func (s *ScyllaStore) RecordReview(ctx context.Context, r *models.ManualReview) error {
	return s.session.Query(`INSERT INTO order_reviews (id, order_id, provider, provider_reference, event_id, event_type,
		current_status, attempted_status, evidence_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrderID, r.Provider, r.ProviderReference, r.EventID, r.EventType,
		string(r.CurrentStatus), string(r.AttemptedStatus), r.EvidenceKey, r.CreatedAt,
	).WithContext(ctx).Exec()
}

func (s *ScyllaStore) Reviews(ctx context.Context, limit int) ([]models.ManualReview, error) {
	iter := s.session.Query(`SELECT id, order_id, provider, provider_reference, event_id, event_type,
		current_status, attempted_status, evidence_key, created_at FROM order_reviews LIMIT ?`, limit).
		WithContext(ctx).Iter()

	var (
		out              []models.ManualReview
		r                models.ManualReview
		current, attempt string
	)
	for iter.Scan(&r.ID, &r.OrderID, &r.Provider, &r.ProviderReference, &r.EventID, &r.EventType,
		&current, &attempt, &r.EvidenceKey, &r.CreatedAt) {
		r.CurrentStatus = models.OrderStatus(current)
		r.AttemptedStatus = models.OrderStatus(attempt)
		out = append(out, r)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sortReviews(out)
	return out, nil
}

func (s *ScyllaStore) RecordRefund(ctx context.Context, r *models.Refund) error {
	return s.session.Query(`INSERT INTO refunds (id, order_id, provider, provider_refund_id, amount, reason,
		requested_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrderID, r.Provider, r.ProviderRefundID, r.Amount.String(), r.Reason, r.RequestedBy, r.CreatedAt,
	).WithContext(ctx).Exec()
}
