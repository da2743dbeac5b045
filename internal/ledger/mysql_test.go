package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

func newMockLedger(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewMySQL(db, fixedCapacity(24), time.Second), mock
}

func TestMySQL_TryReserveAdmits(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec("INSERT INTO slot_capacity").
		WithArgs(day, slot).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE slot_capacity SET committed = committed \+ \?`).
		WithArgs(10, day, slot, 10, 24).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := l.TryReserve(context.Background(), day, slot, 10)
	if err != nil || !ok {
		t.Fatalf("expected admission, got ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMySQL_TryReserveRejectsWhenNoRowMatches(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec("INSERT INTO slot_capacity").
		WithArgs(day, slot).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE slot_capacity SET committed = committed \+ \?`).
		WithArgs(15, day, slot, 15, 24).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.TryReserve(context.Background(), day, slot, 15)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection")
	}
}

func TestMySQL_LockWaitTimeoutFailsClosed(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec("INSERT INTO slot_capacity").
		WithArgs(day, slot).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE slot_capacity SET committed = committed \+ \?`).
		WillReturnError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})

	ok, err := l.TryReserve(context.Background(), day, slot, 2)
	if ok {
		t.Fatalf("expected no admission")
	}
	if !errors.Is(err, ErrCheckTimeout) {
		t.Fatalf("expected ErrCheckTimeout, got %v", err)
	}
}

func TestMySQL_ReleaseBelowZeroIsInvariantViolation(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec(`UPDATE slot_capacity SET committed = committed - \?`).
		WithArgs(4, day, slot, 4).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := l.Release(context.Background(), day, slot, 4); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestMySQL_CommittedDefaultsToZero(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT committed FROM slot_capacity").
		WithArgs(day, slot).
		WillReturnRows(sqlmock.NewRows([]string{"committed"}))

	rem, err := l.Remaining(context.Background(), day, slot)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if rem != 24 {
		t.Fatalf("expected full capacity remaining, got %d", rem)
	}
}

func TestMySQL_CompareAndSetOnlyWhenUnchanged(t *testing.T) {
	l, mock := newMockLedger(t)
	for _, affected := range []int64{1, 0} {
		mock.ExpectExec("INSERT INTO slot_capacity").
			WithArgs(day, slot).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE slot_capacity SET committed = \?`).
			WithArgs(6, day, slot, 9).
			WillReturnResult(sqlmock.NewResult(0, affected))
	}

	ok, err := l.CompareAndSet(context.Background(), day, slot, 9, 6)
	if err != nil || !ok {
		t.Fatalf("expected win, got ok=%v err=%v", ok, err)
	}
	ok, err = l.CompareAndSet(context.Background(), day, slot, 9, 6)
	if err != nil || ok {
		t.Fatalf("expected loss once the row moved, got ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
