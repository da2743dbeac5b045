package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	day  = "2024-06-01"
	slot = "19:00"
)

func fixedCapacity(n int) CapacityFunc { return func(string) int { return n } }

// exerciseLedger runs the behaviour every backend must share.
func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()

	ok, err := l.TryReserve(ctx, day, slot, 10)
	if err != nil || !ok {
		t.Fatalf("expected 10 admitted, got ok=%v err=%v", ok, err)
	}
	if rem, _ := l.Remaining(ctx, day, slot); rem != 14 {
		t.Fatalf("expected 14 remaining, got %d", rem)
	}

	ok, err = l.TryReserve(ctx, day, slot, 15)
	if err != nil || ok {
		t.Fatalf("expected 15 rejected, got ok=%v err=%v", ok, err)
	}
	if c, _ := l.Committed(ctx, day, slot); c != 10 {
		t.Fatalf("rejected reserve changed total: %d", c)
	}

	ok, err = l.TryReserve(ctx, day, slot, 14)
	if err != nil || !ok {
		t.Fatalf("expected 14 admitted at the boundary, got ok=%v err=%v", ok, err)
	}
	if rem, _ := l.Remaining(ctx, day, slot); rem != 0 {
		t.Fatalf("expected 0 remaining, got %d", rem)
	}

	if err := l.Release(ctx, day, slot, 10); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rem, _ := l.Remaining(ctx, day, slot); rem != 14 {
		t.Fatalf("expected 14 remaining after release, got %d", rem)
	}

	if err := l.Release(ctx, day, slot, 15); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if c, _ := l.Committed(ctx, day, slot); c != 10 {
		t.Fatalf("failed release changed total: %d", c)
	}

	if err := l.Set(ctx, day, slot, 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if c, _ := l.Committed(ctx, day, slot); c != 3 {
		t.Fatalf("expected 3 after Set, got %d", c)
	}

	ok, err = l.CompareAndSet(ctx, day, slot, 9, 5)
	if err != nil || ok {
		t.Fatalf("expected stale compare-and-set to lose, got ok=%v err=%v", ok, err)
	}
	if c, _ := l.Committed(ctx, day, slot); c != 3 {
		t.Fatalf("lost compare-and-set changed total: %d", c)
	}
	ok, err = l.CompareAndSet(ctx, day, slot, 3, 5)
	if err != nil || !ok {
		t.Fatalf("expected compare-and-set 3->5, got ok=%v err=%v", ok, err)
	}
	if c, _ := l.Committed(ctx, day, slot); c != 5 {
		t.Fatalf("expected 5 after compare-and-set, got %d", c)
	}
	ok, err = l.CompareAndSet(ctx, day, "21:00", 0, 2)
	if err != nil || !ok {
		t.Fatalf("expected compare-and-set on a fresh slot, got ok=%v err=%v", ok, err)
	}
	if c, _ := l.Committed(ctx, day, "21:00"); c != 2 {
		t.Fatalf("expected 2 on the fresh slot, got %d", c)
	}

	if c, _ := l.Committed(ctx, day, "20:00"); c != 0 {
		t.Fatalf("expected untouched slot to be 0, got %d", c)
	}
	if _, err := l.TryReserve(ctx, day, slot, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// exerciseConcurrency checks that exactly capacity single-seat requests win.
func exerciseConcurrency(t *testing.T, l Ledger, capacity, callers int) {
	t.Helper()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.TryReserve(context.Background(), day, slot, 1)
			if err != nil {
				t.Errorf("TryReserve: %v", err)
				return
			}
			if ok {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := int(admitted.Load()); got != capacity {
		t.Fatalf("expected exactly %d admissions, got %d", capacity, got)
	}
	if c, _ := l.Committed(context.Background(), day, slot); c != capacity {
		t.Fatalf("expected committed %d, got %d", capacity, c)
	}
}

func TestMemory_Contract(t *testing.T) {
	exerciseLedger(t, NewMemory(fixedCapacity(24), time.Second))
}

func TestMemory_NoOverbookingUnderConcurrency(t *testing.T) {
	exerciseConcurrency(t, NewMemory(fixedCapacity(5), time.Second), 5, 20)
}

func TestMemory_LockTimeoutFailsClosed(t *testing.T) {
	m := NewMemory(fixedCapacity(5), 20*time.Millisecond)
	s := m.slot(day, slot)
	s.sem <- struct{}{} // hold the slot lock
	defer func() { <-s.sem }()

	ok, err := m.TryReserve(context.Background(), day, slot, 1)
	if ok {
		t.Fatalf("expected no admission while the lock is held")
	}
	if !errors.Is(err, ErrCheckTimeout) {
		t.Fatalf("expected ErrCheckTimeout, got %v", err)
	}
	if s.committed != 0 {
		t.Fatalf("expected nothing committed, got %d", s.committed)
	}
}

func TestMemory_UsesPerDateCapacity(t *testing.T) {
	caps := map[string]int{"2024-12-31": 2}
	m := NewMemory(func(d string) int {
		if n, ok := caps[d]; ok {
			return n
		}
		return 10
	}, time.Second)

	if ok, _ := m.TryReserve(context.Background(), "2024-12-31", slot, 3); ok {
		t.Fatalf("expected override capacity 2 to reject 3")
	}
	if ok, _ := m.TryReserve(context.Background(), day, slot, 3); !ok {
		t.Fatalf("expected default capacity 10 to admit 3")
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedis_Contract(t *testing.T) {
	exerciseLedger(t, NewRedis(newTestRedis(t), fixedCapacity(24), "test", time.Second))
}

func TestRedis_NoOverbookingUnderConcurrency(t *testing.T) {
	exerciseConcurrency(t, NewRedis(newTestRedis(t), fixedCapacity(5), "test", time.Second), 5, 20)
}

func TestRedis_KeyLayout(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewRedis(rdb, fixedCapacity(5), "ledger", time.Second)
	if ok, err := l.TryReserve(context.Background(), day, slot, 2); err != nil || !ok {
		t.Fatalf("TryReserve: ok=%v err=%v", ok, err)
	}
	n, err := rdb.Get(context.Background(), "ledger:2024-06-01:19:00").Int()
	if err != nil {
		t.Fatalf("expected counter key: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected counter 2, got %d", n)
	}
}
