package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/table-reservation/internal/model"
)

// MemoryReservationRepo keeps reservations in process memory.  It is used by
// the memory store driver and by tests.  Records are copied on the way in
// and out so callers never share state with the store.
type MemoryReservationRepo struct {
	mu   sync.RWMutex
	byID map[string]model.Reservation
}

func NewMemoryReservationRepo() *MemoryReservationRepo {
	return &MemoryReservationRepo{byID: make(map[string]model.Reservation)}
}

func (r *MemoryReservationRepo) Create(_ context.Context, res *model.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[res.ID]; ok {
		return ErrConflict
	}
	r.byID[res.ID] = *res
	return nil
}

func (r *MemoryReservationRepo) GetByID(_ context.Context, id string) (*model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &res, nil
}

func (r *MemoryReservationRepo) List(_ context.Context, f ListFilter) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Reservation, 0)
	for _, res := range r.byID {
		if f.Date != "" && res.Date != f.Date {
			continue
		}
		if f.Status != "" && res.Status != f.Status {
			continue
		}
		out = append(out, res)
	}
	sortReservations(out)
	return out, nil
}

func (r *MemoryReservationRepo) ConfirmedBySlot(_ context.Context, date, slot string) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Reservation, 0)
	for _, res := range r.byID {
		if res.Date == date && res.Slot == slot && res.IsConfirmed() {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func (r *MemoryReservationRepo) SumConfirmed(_ context.Context, date string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sums := make(map[string]int)
	for _, res := range r.byID {
		if res.Date == date && res.IsConfirmed() {
			sums[res.Slot] += res.PartySize
		}
	}
	return sums, nil
}

func (r *MemoryReservationRepo) MarkCancelled(_ context.Context, id string, at time.Time) (*model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !res.IsConfirmed() {
		return nil, ErrAlreadyCancelled
	}
	res.Status = model.StatusCancelled
	res.UpdatedAt = at.UTC()
	r.byID[id] = res
	return &res, nil
}

func sortReservations(rs []model.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
