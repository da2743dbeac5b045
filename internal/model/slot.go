package model

// SlotAvailability is the remaining capacity of one slot.
type SlotAvailability struct {
	Time      string `json:"time"`
	Remaining int    `json:"remaining"`
}

// Availability lists the slots of a date together with the capacity that
// applies to each of them.  Slots is empty, never nil, on blackout dates.
type Availability struct {
	Date     string             `json:"date"`
	Capacity int                `json:"capacity"`
	Slots    []SlotAvailability `json:"slots"`
}
