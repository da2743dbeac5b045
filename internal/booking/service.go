// Package booking is the entry point for reserving and cancelling slots.  It
// validates requests against the calendar, asks the capacity ledger for an
// atomic admission, persists the record and undoes the admission when
// persistence fails.
package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/table-reservation/internal/calendar"
	"github.com/iliyamo/table-reservation/internal/ledger"
	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/queue"
	"github.com/iliyamo/table-reservation/internal/repository"
)

const (
	maxNameLength  = 100
	maxNotesLength = 500
)

// Store is the reservation record store the service writes through.
type Store interface {
	Create(ctx context.Context, res *model.Reservation) error
	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	List(ctx context.Context, f repository.ListFilter) ([]model.Reservation, error)
	ConfirmedBySlot(ctx context.Context, date, slot string) ([]model.Reservation, error)
	SumConfirmed(ctx context.Context, date string) (map[string]int, error)
	MarkCancelled(ctx context.Context, id string, at time.Time) (*model.Reservation, error)
}

// Publisher delivers reservation events.  Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

// CreateInput is a booking request as received from a client.  Time is the
// requested wall-clock time and is normalized to its slot.
type CreateInput struct {
	Date      string
	Time      string
	PartySize int
	Name      string
	Email     string
	Phone     *string
	Notes     *string
}

// Service coordinates the calendar, the ledger and the store.
type Service struct {
	cal    *calendar.Calendar
	ledger ledger.Ledger
	store  Store
	pub    Publisher
	log    *zap.Logger
	now    func() time.Time
	newID  func() string

	publishTimeout time.Duration
	storeTimeout   time.Duration
	settle         time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sends reservation events through p.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithStoreTimeout bounds every record write.  Together with the ledger's
// own timeout it caps how long an admission can stay unrecorded.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithReconcileSettle sets how long Reconcile waits before it re-observes a
// discrepancy and repairs it.  It must exceed the longest time a booking or
// cancellation can keep the ledger and the records apart, i.e. the store
// timeout plus two ledger timeouts.
func WithReconcileSettle(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.settle = d
		}
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func NewService(cal *calendar.Calendar, l ledger.Ledger, store Store, opts ...Option) *Service {
	s := &Service{
		cal:            cal,
		ledger:         l,
		store:          store,
		log:            zap.NewNop(),
		now:            time.Now,
		newID:          uuid.NewString,
		publishTimeout: 3 * time.Second,
		storeTimeout:   5 * time.Second,
		settle:         10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calendar returns the calendar the service books against.
func (s *Service) Calendar() *calendar.Calendar { return s.cal }

// GetAvailability reports the remaining capacity of every slot offered on
// date.  A blackout date yields an empty slot list.
func (s *Service) GetAvailability(ctx context.Context, date string) (model.Availability, error) {
	if _, err := s.cal.ParseDate(date); err != nil {
		return model.Availability{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	labels := s.cal.GenerateSlots(date)
	out := model.Availability{
		Date:     date,
		Capacity: s.cal.CapacityFor(date),
		Slots:    make([]model.SlotAvailability, 0, len(labels)),
	}
	for _, label := range labels {
		rem, err := s.ledger.Remaining(ctx, date, label)
		if err != nil {
			return model.Availability{}, ledgerError("remaining", err)
		}
		out.Slots = append(out.Slots, model.SlotAvailability{Time: label, Remaining: rem})
	}
	return out, nil
}

// CreateBooking validates in, admits it against the ledger and stores a
// confirmed reservation.  Nothing is committed unless the returned error is
// nil.
func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (*model.Reservation, error) {
	rules := s.cal.Config()
	if in.PartySize < rules.MinPartySize || in.PartySize > rules.MaxPartySize {
		return nil, fmt.Errorf("%w: got %d, allowed %d..%d", ErrInvalidPartySize, in.PartySize, rules.MinPartySize, rules.MaxPartySize)
	}
	name, email, err := validateContact(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.cal.ParseDate(in.Date); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := s.now()
	if s.cal.IsBlackout(in.Date) {
		return nil, fmt.Errorf("%w: %s is closed", ErrDateNotBookable, in.Date)
	}
	if in.Date < s.cal.Today(now) {
		return nil, fmt.Errorf("%w: %s is in the past", ErrDateNotBookable, in.Date)
	}
	slot, err := s.cal.NormalizeToSlot(in.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, in.Time)
	}
	if !s.cal.Offers(in.Date, slot) {
		return nil, fmt.Errorf("%w: %s %s", ErrSlotNotOffered, in.Date, slot)
	}
	if start, err := s.cal.SlotStart(in.Date, slot); err == nil && !start.After(now) {
		return nil, fmt.Errorf("%w: %s %s has already started", ErrSlotNotOffered, in.Date, slot)
	}

	admitted, err := s.ledger.TryReserve(ctx, in.Date, slot, in.PartySize)
	if err != nil {
		return nil, ledgerError("reserve", err)
	}
	if !admitted {
		return nil, fmt.Errorf("%w: %s %s cannot take %d more", ErrCapacityExceeded, in.Date, slot, in.PartySize)
	}

	res := &model.Reservation{
		ID:        s.newID(),
		Name:      name,
		Email:     email,
		Phone:     trimmed(in.Phone),
		Date:      in.Date,
		Slot:      slot,
		PartySize: in.PartySize,
		Notes:     trimmed(in.Notes),
		Status:    model.StatusConfirmed,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := s.createRecord(ctx, res); err != nil {
		s.compensate(ctx, res, err)
		return nil, fmt.Errorf("%w: create reservation: %v", ErrStorageFailure, err)
	}

	s.log.Info("reservation confirmed",
		zap.String("id", res.ID), zap.String("date", res.Date),
		zap.String("slot", res.Slot), zap.Int("party_size", res.PartySize))
	s.publish(ctx, queue.EventConfirmed, res)
	return res, nil
}

func (s *Service) createRecord(ctx context.Context, res *model.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Create(ctx, res)
}

// compensate returns an admitted party size to the ledger after the record
// could not be stored.  It runs even if the caller has gone away.
func (s *Service) compensate(ctx context.Context, res *model.Reservation, cause error) {
	if err := s.ledger.Release(context.WithoutCancel(ctx), res.Date, res.Slot, res.PartySize); err != nil {
		s.log.Error("compensating release failed; ledger needs reconciliation",
			zap.String("date", res.Date), zap.String("slot", res.Slot),
			zap.Int("party_size", res.PartySize), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	s.log.Warn("reservation not stored; capacity released",
		zap.String("date", res.Date), zap.String("slot", res.Slot),
		zap.Int("party_size", res.PartySize), zap.Error(cause))
}

// CancelBooking marks a confirmed reservation cancelled and then returns its
// party size to the ledger.  A second cancel of the same id fails with
// ErrAlreadyCancelled and changes nothing.
func (s *Service) CancelBooking(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	mctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	res, err := s.store.MarkCancelled(mctx, id, s.now())
	cancel()
	if err != nil {
		return storeError("cancel", id, err)
	}
	if err := s.ledger.Release(context.WithoutCancel(ctx), res.Date, res.Slot, res.PartySize); err != nil {
		s.log.Error("release after cancel failed; ledger needs reconciliation",
			zap.String("id", res.ID), zap.String("date", res.Date),
			zap.String("slot", res.Slot), zap.Int("party_size", res.PartySize), zap.Error(err))
		return fmt.Errorf("%w: release capacity: %v", ErrStorageFailure, err)
	}
	s.log.Info("reservation cancelled", zap.String("id", res.ID),
		zap.String("date", res.Date), zap.String("slot", res.Slot))
	s.publish(ctx, queue.EventCancelled, res)
	return nil
}

// GetBooking returns one reservation by id.
func (s *Service) GetBooking(ctx context.Context, id string) (*model.Reservation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	res, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get", id, err)
	}
	return res, nil
}

// ListReservations returns reservations for review.  Empty date or status
// match everything.
func (s *Service) ListReservations(ctx context.Context, date, status string) ([]model.Reservation, error) {
	if date != "" {
		if _, err := s.cal.ParseDate(date); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if status != "" && !model.ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	out, err := s.store.List(ctx, repository.ListFilter{Date: date, Status: status})
	if err != nil {
		return nil, fmt.Errorf("%w: list reservations: %v", ErrStorageFailure, err)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, typ string, res *model.Reservation) {
	if s.pub == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pctx, queue.NewReservationEvent(typ, res, s.now())); err != nil {
		s.log.Warn("publish reservation event failed",
			zap.String("type", typ), zap.String("id", res.ID), zap.Error(err))
	}
}

func validateContact(in CreateInput) (name, email string, err error) {
	name = strings.TrimSpace(in.Name)
	if name == "" {
		return "", "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return "", "", fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}
	email = strings.TrimSpace(in.Email)
	addr, perr := mail.ParseAddress(email)
	if perr != nil || addr.Address != email {
		return "", "", fmt.Errorf("%w: invalid email %q", ErrInvalidInput, in.Email)
	}
	if in.Notes != nil && len(*in.Notes) > maxNotesLength {
		return "", "", fmt.Errorf("%w: notes are too long", ErrInvalidInput)
	}
	return name, email, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func ledgerError(op string, err error) error {
	if errors.Is(err, ledger.ErrCheckTimeout) {
		return fmt.Errorf("%w: %v", ErrCapacityCheckTimeout, err)
	}
	return fmt.Errorf("%w: ledger %s: %v", ErrStorageFailure, op, err)
}

func storeError(op, id string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, repository.ErrAlreadyCancelled):
		return fmt.Errorf("%w: %s", ErrAlreadyCancelled, id)
	default:
		return fmt.Errorf("%w: %s reservation %s: %v", ErrStorageFailure, op, id, err)
	}
}
