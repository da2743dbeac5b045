package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/table-reservation/internal/ledger"
	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/repository"
)

func TestReconcile_ReportsAndFixesDrift(t *testing.T) {
	f := newFixture(t, testCalendar(t, nil))
	ctx := context.Background()
	if _, err := f.svc.CreateBooking(ctx, input(6)); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	// Simulate drift on two slots.
	_ = f.ledger.Set(ctx, bookDate, bookTime, 9)
	_ = f.ledger.Set(ctx, bookDate, "20:00", 2)

	report, err := f.svc.Reconcile(ctx, bookDate, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Fixed || report.Checked != 22 || len(report.Discrepancies) != 2 {
		t.Fatalf("unexpected dry-run report %+v", report)
	}
	first := report.Discrepancies[0]
	if first.Slot != bookTime || first.Ledger != 9 || first.Records != 6 {
		t.Fatalf("unexpected discrepancy %+v", first)
	}
	if c, _ := f.ledger.Committed(ctx, bookDate, bookTime); c != 9 {
		t.Fatalf("dry run changed the ledger: %d", c)
	}

	fixed, err := f.svc.Reconcile(ctx, bookDate, true)
	if err != nil {
		t.Fatalf("Reconcile fix: %v", err)
	}
	if !fixed.Fixed || len(fixed.Repaired) != 2 || len(fixed.Skipped) != 0 {
		t.Fatalf("unexpected fix report %+v", fixed)
	}
	if c, _ := f.ledger.Committed(ctx, bookDate, bookTime); c != 6 {
		t.Fatalf("expected 6 after fix, got %d", c)
	}
	if c, _ := f.ledger.Committed(ctx, bookDate, "20:00"); c != 0 {
		t.Fatalf("expected 0 after fix, got %d", c)
	}

	again, err := f.svc.Reconcile(ctx, bookDate, true)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if len(again.Discrepancies) != 0 {
		t.Fatalf("expected a clean second run, got %+v", again.Discrepancies)
	}
}

func TestReconcile_IncludesSlotsOnlyHeldByRecords(t *testing.T) {
	f := newFixture(t, testCalendar(t, nil))
	ctx := context.Background()
	// A record left over from a previous calendar layout.
	_ = f.store.Create(ctx, &model.Reservation{
		ID: "legacy", Name: "Grace", Email: "grace@example.com",
		Date: bookDate, Slot: "22:30", PartySize: 4, Status: model.StatusConfirmed,
	})

	report, err := f.svc.Reconcile(ctx, bookDate, true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Checked != 23 || len(report.Discrepancies) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if d := report.Discrepancies[0]; d.Slot != "22:30" || d.Records != 4 || d.Ledger != 0 {
		t.Fatalf("unexpected discrepancy %+v", d)
	}
	if c, _ := f.ledger.Committed(ctx, bookDate, "22:30"); c != 4 {
		t.Fatalf("expected ledger set to 4, got %d", c)
	}
}

func TestReconcile_RejectsMalformedDate(t *testing.T) {
	f := newFixture(t, testCalendar(t, nil))
	if _, err := f.svc.Reconcile(context.Background(), "tomorrow", false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// interleavingStore runs beforeCreate ahead of the first insert and signals
// summed once the first SumConfirmed has been answered.
type interleavingStore struct {
	*repository.MemoryReservationRepo
	beforeCreate func()
	summed       chan struct{}
	once         sync.Once
}

func (s *interleavingStore) SumConfirmed(ctx context.Context, date string) (map[string]int, error) {
	sums, err := s.MemoryReservationRepo.SumConfirmed(ctx, date)
	s.once.Do(func() { close(s.summed) })
	return sums, err
}

func (s *interleavingStore) Create(ctx context.Context, res *model.Reservation) error {
	if hook := s.beforeCreate; hook != nil {
		s.beforeCreate = nil
		hook()
	}
	return s.MemoryReservationRepo.Create(ctx, res)
}

func TestReconcile_KeepsAdmissionWhoseRecordIsInFlight(t *testing.T) {
	cal := testCalendar(t, nil)
	l := ledger.NewMemory(cal.CapacityFor, time.Second)
	store := &interleavingStore{MemoryReservationRepo: repository.NewMemoryReservationRepo(), summed: make(chan struct{})}
	svc := NewService(cal, l, store, WithClock(func() time.Time { return fixedNow }), WithReconcileSettle(20*time.Millisecond))
	ctx := context.Background()

	type outcome struct {
		report Report
		err    error
	}
	done := make(chan outcome, 1)
	// The ledger has admitted A; reconciliation observes before the record lands.
	store.beforeCreate = func() {
		go func() {
			r, err := svc.Reconcile(ctx, bookDate, true)
			done <- outcome{r, err}
		}()
		<-store.summed
	}

	if _, err := svc.CreateBooking(ctx, input(10)); err != nil {
		t.Fatalf("booking A: %v", err)
	}
	got := <-done
	if got.err != nil {
		t.Fatalf("Reconcile: %v", got.err)
	}
	if len(got.report.Discrepancies) != 1 || len(got.report.Repaired) != 0 {
		t.Fatalf("in-flight admission must be seen but not repaired: %+v", got.report)
	}
	if c, _ := l.Committed(ctx, bookDate, bookTime); c != 10 {
		t.Fatalf("expected ledger to keep 10, got %d", c)
	}

	if _, err := svc.CreateBooking(ctx, input(20)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected B to be rejected, got %v", err)
	}
	sums, _ := store.SumConfirmed(ctx, bookDate)
	if sums[bookTime] > cal.CapacityFor(bookDate) {
		t.Fatalf("overbooked: %d confirmed for capacity %d", sums[bookTime], cal.CapacityFor(bookDate))
	}
}

// racingLedger admits a party right before the first compare-and-set, as a
// booking arriving between the second observation and the repair would.
type racingLedger struct {
	ledger.Ledger
	once sync.Once
}

func (l *racingLedger) CompareAndSet(ctx context.Context, date, slot string, expected, committed int) (bool, error) {
	l.once.Do(func() { _, _ = l.Ledger.TryReserve(ctx, date, slot, 2) })
	return l.Ledger.CompareAndSet(ctx, date, slot, expected, committed)
}

func TestReconcile_SkipsSlotThatMovesBeforeRepair(t *testing.T) {
	cal := testCalendar(t, nil)
	inner := ledger.NewMemory(cal.CapacityFor, time.Second)
	store := repository.NewMemoryReservationRepo()
	svc := NewService(cal, &racingLedger{Ledger: inner}, store,
		WithClock(func() time.Time { return fixedNow }), WithReconcileSettle(time.Millisecond))
	ctx := context.Background()
	_ = inner.Set(ctx, bookDate, bookTime, 5)

	report, err := svc.Reconcile(ctx, bookDate, true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Fixed || len(report.Skipped) != 1 || len(report.Repaired) != 0 {
		t.Fatalf("expected the moved slot to be skipped, got %+v", report)
	}
	if c, _ := inner.Committed(ctx, bookDate, bookTime); c != 7 {
		t.Fatalf("expected the late admission to survive, got %d", c)
	}
}

func TestReconcile_StopsWaitingWithContext(t *testing.T) {
	f := newFixture(t, testCalendar(t, nil), WithReconcileSettle(time.Hour))
	_ = f.ledger.Set(context.Background(), bookDate, bookTime, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report, err := f.svc.Reconcile(ctx, bookDate, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(report.Discrepancies) != 1 || len(report.Repaired) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if c, _ := f.ledger.Committed(context.Background(), bookDate, bookTime); c != 3 {
		t.Fatalf("abandoned run changed the ledger: %d", c)
	}
}
