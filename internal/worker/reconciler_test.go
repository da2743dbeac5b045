package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/table-reservation/internal/booking"
	"github.com/iliyamo/table-reservation/internal/calendar"
	"github.com/iliyamo/table-reservation/internal/ledger"
	"github.com/iliyamo/table-reservation/internal/repository"
)

var clock = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*booking.Service, *ledger.Memory) {
	t.Helper()
	cal, err := calendar.New(calendar.Config{
		SlotMinutes:     60,
		OpenHour:        18,
		CloseHour:       22,
		CapacityPerSlot: 10,
		MinPartySize:    1,
		MaxPartySize:    10,
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	l := ledger.NewMemory(cal.CapacityFor, time.Second)
	svc := booking.NewService(cal, l, repository.NewMemoryReservationRepo(),
		booking.WithClock(func() time.Time { return clock }),
		booking.WithReconcileSettle(time.Millisecond))
	return svc, l
}

func TestReconciler_RepairsDriftInWindow(t *testing.T) {
	svc, l := setup(t)
	ctx := context.Background()
	if _, err := svc.CreateBooking(ctx, booking.CreateInput{
		Date: "2024-05-02", Time: "19:00", PartySize: 4, Name: "Ada", Email: "ada@example.com",
	}); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	_ = l.Set(ctx, "2024-05-02", "19:00", 7)
	// outside the window, must stay untouched
	_ = l.Set(ctx, "2024-05-10", "18:00", 3)

	core, logs := observer.New(zapcore.WarnLevel)
	r := NewReconciler(svc, time.Hour, 2, zap.New(core))
	r.now = func() time.Time { return clock }

	drifted := r.RunOnce(ctx)
	if len(drifted) != 1 || drifted[0].Date != "2024-05-02" {
		t.Fatalf("unexpected drift reports %+v", drifted)
	}
	if c, _ := l.Committed(ctx, "2024-05-02", "19:00"); c != 4 {
		t.Fatalf("expected ledger repaired to 4, got %d", c)
	}
	if c, _ := l.Committed(ctx, "2024-05-10", "18:00"); c != 3 {
		t.Fatalf("date outside the window changed: %d", c)
	}
	if n := logs.FilterMessage("ledger drift repaired").Len(); n != 1 {
		t.Fatalf("expected one drift log entry, got %d", n)
	}

	if again := r.RunOnce(ctx); len(again) != 0 {
		t.Fatalf("expected clean second pass, got %+v", again)
	}
}

func TestReconciler_RunStopsWithContext(t *testing.T) {
	svc, _ := setup(t)
	r := NewReconciler(svc, 10*time.Millisecond, 0, nil)
	r.now = func() time.Time { return clock }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the context ended")
	}
}
