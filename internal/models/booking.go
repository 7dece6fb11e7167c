package models

import (
	"time"

	"github.com/gocql/gocql"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

type BookingStatusEntry struct {
	Status BookingStatus `json:"status"`
	At     time.Time     `json:"at"`
	Reason string        `json:"reason,omitempty"`
	Actor  string        `json:"actor,omitempty"`
}

type Booking struct {
	Key           gocql.UUID           `json:"-"`
	BookingID     string               `json:"booking_id"`
	OwnerRef      string               `json:"owner_ref"`
	ResourceRef   string               `json:"resource_ref"`
	StartsAt      time.Time            `json:"starts_at"`
	Status        BookingStatus        `json:"status"`
	StatusHistory []BookingStatusEntry `json:"status_history"`
	SoftDelete
	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	cp := *b
	cp.StatusHistory = append([]BookingStatusEntry(nil), b.StatusHistory...)
	if b.DeletedAt != nil {
		at := *b.DeletedAt
		cp.DeletedAt = &at
	}
	return &cp
}
