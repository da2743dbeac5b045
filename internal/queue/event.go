// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the audit consumer.
package queue

import (
	"time"

	"github.com/iliyamo/table-reservation/internal/model"
)

// Event types carried in ReservationEvent.Type.
const (
	EventConfirmed = "reservation.confirmed"
	EventCancelled = "reservation.cancelled"
)

// ReservationEvent is published when a reservation is confirmed or cancelled.
// It contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary store.
type ReservationEvent struct {
	Type          string `json:"type"`
	ReservationID string `json:"reservation_id"`
	Date          string `json:"date"`
	Slot          string `json:"slot"`
	PartySize     int    `json:"party_size"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	OccurredAt    string `json:"occurred_at"`
}

// NewReservationEvent builds an event of type typ for res at the given instant.
func NewReservationEvent(typ string, res *model.Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          typ,
		ReservationID: res.ID,
		Date:          res.Date,
		Slot:          res.Slot,
		PartySize:     res.PartySize,
		Name:          res.Name,
		Email:         res.Email,
		OccurredAt:    at.UTC().Format(time.RFC3339),
	}
}
