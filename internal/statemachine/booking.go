package statemachine

import (
	"time"

	"cedra_fulfillment/internal/models"
)

var Bookings = New("booking", map[models.BookingStatus][]models.BookingStatus{
	models.BookingPending:   {models.BookingConfirmed, models.BookingCancelled},
	models.BookingConfirmed: {models.BookingCompleted, models.BookingCancelled},
}, models.BookingCompleted, models.BookingCancelled)

func ApplyBookingTransition(b *models.Booking, target models.BookingStatus, reason, actor string, now time.Time) (bool, error) {
	noop, err := Bookings.Check(b.Status, target)
	if err != nil || noop {
		return false, err
	}

	var last time.Time
	if n := len(b.StatusHistory); n > 0 {
		last = b.StatusHistory[n-1].At
	}
	at := nextTimestamp(last, now)

	b.Status = target
	b.StatusHistory = append(b.StatusHistory, models.BookingStatusEntry{
		Status: target,
		At:     at,
		Reason: reason,
		Actor:  actor,
	})
	b.UpdatedAt = at
	return true, nil
}
