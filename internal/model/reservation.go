package model

import "time"

// Reservation statuses.  The only legal transition is confirmed -> cancelled.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Reservation records one party's booking of a slot.
//
// Fields:
//
//	ID        – opaque identifier (UUID).
//	Name      – contact name.
//	Email     – contact email.
//	Phone     – optional contact phone.
//	Date      – civil date in the venue zone (YYYY-MM-DD).
//	Slot      – normalized slot label (HH:MM).
//	PartySize – number of guests; fixed at creation.
//	Notes     – optional free text.
//	Status    – confirmed or cancelled.
//	CreatedAt – creation timestamp (UTC).
//	UpdatedAt – last status change (UTC).
//
// Date, Slot and PartySize never change after creation.  Moving a booking is a
// cancel followed by a new booking.
type Reservation struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	Phone     *string   `json:"phone,omitempty" bson:"phone,omitempty"`
	Date      string    `json:"date" bson:"date"`
	Slot      string    `json:"slot" bson:"slot"`
	PartySize int       `json:"party_size" bson:"party_size"`
	Notes     *string   `json:"notes,omitempty" bson:"notes,omitempty"`
	Status    string    `json:"status" bson:"status"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// IsConfirmed reports whether the reservation still holds capacity.
func (r *Reservation) IsConfirmed() bool { return r.Status == StatusConfirmed }

// ValidStatus reports whether s is a known reservation status.
func ValidStatus(s string) bool {
	return s == StatusConfirmed || s == StatusCancelled
}
