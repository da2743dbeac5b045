package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process ledger.  Each slot owns a one-token channel used
// as a lock, so a caller waiting on a contended slot gives up after
// LockTimeout instead of blocking forever.
type Memory struct {
	capacity    CapacityFunc
	lockTimeout time.Duration

	mu    sync.Mutex // guards slots map membership only
	slots map[string]*memorySlot
}

type memorySlot struct {
	sem       chan struct{}
	committed int
}

// NewMemory returns an empty in-memory ledger.  A non-positive lockTimeout
// defaults to one second.
func NewMemory(capacity CapacityFunc, lockTimeout time.Duration) *Memory {
	if lockTimeout <= 0 {
		lockTimeout = time.Second
	}
	return &Memory{
		capacity:    capacity,
		lockTimeout: lockTimeout,
		slots:       make(map[string]*memorySlot),
	}
}

func (m *Memory) slot(date, slot string) *memorySlot {
	key := Key(date, slot)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &memorySlot{sem: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	return s
}

// acquire takes the slot lock or fails with ErrCheckTimeout.
func (m *Memory) acquire(ctx context.Context, s *memorySlot) (func(), error) {
	acqCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-acqCtx.Done():
		return nil, fmt.Errorf("%w: slot lock: %v", ErrCheckTimeout, acqCtx.Err())
	}
}

func (m *Memory) Committed(ctx context.Context, date, slot string) (int, error) {
	s := m.slot(date, slot)
	release, err := m.acquire(ctx, s)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.committed, nil
}

func (m *Memory) Remaining(ctx context.Context, date, slot string) (int, error) {
	committed, err := m.Committed(ctx, date, slot)
	if err != nil {
		return 0, err
	}
	return remaining(m.capacity(date), committed), nil
}

func (m *Memory) TryReserve(ctx context.Context, date, slot string, partySize int) (bool, error) {
	if partySize <= 0 {
		return false, ErrInvalidAmount
	}
	s := m.slot(date, slot)
	release, err := m.acquire(ctx, s)
	if err != nil {
		return false, err
	}
	defer release()
	if s.committed+partySize > m.capacity(date) {
		return false, nil
	}
	s.committed += partySize
	return true, nil
}

func (m *Memory) Release(ctx context.Context, date, slot string, partySize int) error {
	if partySize <= 0 {
		return ErrInvalidAmount
	}
	s := m.slot(date, slot)
	release, err := m.acquire(ctx, s)
	if err != nil {
		return err
	}
	defer release()
	if s.committed < partySize {
		return fmt.Errorf("%w: release %d from %s with %d committed", ErrInvariantViolation, partySize, Key(date, slot), s.committed)
	}
	s.committed -= partySize
	return nil
}

func (m *Memory) Set(ctx context.Context, date, slot string, committed int) error {
	if committed < 0 {
		return ErrInvalidAmount
	}
	s := m.slot(date, slot)
	release, err := m.acquire(ctx, s)
	if err != nil {
		return err
	}
	defer release()
	s.committed = committed
	return nil
}

func (m *Memory) CompareAndSet(ctx context.Context, date, slot string, expected, committed int) (bool, error) {
	if committed < 0 || expected < 0 {
		return false, ErrInvalidAmount
	}
	s := m.slot(date, slot)
	release, err := m.acquire(ctx, s)
	if err != nil {
		return false, err
	}
	defer release()
	if s.committed != expected {
		return false, nil
	}
	s.committed = committed
	return true, nil
}
