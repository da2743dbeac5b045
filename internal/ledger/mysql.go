package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers treated as contention rather than failure.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// MySQL keeps committed totals in the slot_capacity table.  Admission is a
// single conditional UPDATE, so InnoDB evaluates the capacity check and the
// increment under the same row lock.
type MySQL struct {
	db       *sql.DB
	capacity CapacityFunc
	timeout  time.Duration
}

// NewMySQL returns a ledger bound to db.  Each statement is bounded by
// timeout; a non-positive value defaults to three seconds.
func NewMySQL(db *sql.DB, capacity CapacityFunc, timeout time.Duration) *MySQL {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MySQL{db: db, capacity: capacity, timeout: timeout}
}

func (l *MySQL) Committed(ctx context.Context, date, slot string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	const q = `SELECT committed FROM slot_capacity WHERE slot_date = ? AND slot_time = ?`
	var n int
	err := l.db.QueryRowContext(ctx, q, date, slot).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, l.wrap("select", err)
	}
	return n, nil
}

func (l *MySQL) Remaining(ctx context.Context, date, slot string) (int, error) {
	committed, err := l.Committed(ctx, date, slot)
	if err != nil {
		return 0, err
	}
	return remaining(l.capacity(date), committed), nil
}

func (l *MySQL) TryReserve(ctx context.Context, date, slot string, partySize int) (bool, error) {
	if partySize <= 0 {
		return false, ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	// Make sure the row exists so the conditional update has something to lock.
	const ensure = `INSERT INTO slot_capacity (slot_date, slot_time, committed) VALUES (?, ?, 0)
	                ON DUPLICATE KEY UPDATE slot_date = slot_date`
	if _, err := l.db.ExecContext(ctx, ensure, date, slot); err != nil {
		return false, l.wrap("ensure", err)
	}
	const admit = `UPDATE slot_capacity SET committed = committed + ?
	               WHERE slot_date = ? AND slot_time = ? AND committed + ? <= ?`
	res, err := l.db.ExecContext(ctx, admit, partySize, date, slot, partySize, l.capacity(date))
	if err != nil {
		return false, l.wrap("admit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, l.wrap("admit", err)
	}
	return n == 1, nil
}

func (l *MySQL) Release(ctx context.Context, date, slot string, partySize int) error {
	if partySize <= 0 {
		return ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	const q = `UPDATE slot_capacity SET committed = committed - ?
	           WHERE slot_date = ? AND slot_time = ? AND committed >= ?`
	res, err := l.db.ExecContext(ctx, q, partySize, date, slot, partySize)
	if err != nil {
		return l.wrap("release", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return l.wrap("release", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: release %d from %s", ErrInvariantViolation, partySize, Key(date, slot))
	}
	return nil
}

func (l *MySQL) Set(ctx context.Context, date, slot string, committed int) error {
	if committed < 0 {
		return ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	const q = `INSERT INTO slot_capacity (slot_date, slot_time, committed) VALUES (?, ?, ?)
	           ON DUPLICATE KEY UPDATE committed = VALUES(committed)`
	if _, err := l.db.ExecContext(ctx, q, date, slot, committed); err != nil {
		return l.wrap("set", err)
	}
	return nil
}

// CompareAndSet makes sure the row exists and then updates it under the row
// lock only while committed still equals expected.
func (l *MySQL) CompareAndSet(ctx context.Context, date, slot string, expected, committed int) (bool, error) {
	if committed < 0 || expected < 0 {
		return false, ErrInvalidAmount
	}
	if committed == expected {
		cur, err := l.Committed(ctx, date, slot)
		if err != nil {
			return false, err
		}
		return cur == expected, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	const ensure = `INSERT INTO slot_capacity (slot_date, slot_time, committed) VALUES (?, ?, 0)
	                ON DUPLICATE KEY UPDATE slot_date = slot_date`
	if _, err := l.db.ExecContext(ctx, ensure, date, slot); err != nil {
		return false, l.wrap("ensure", err)
	}
	const q = `UPDATE slot_capacity SET committed = ?
	           WHERE slot_date = ? AND slot_time = ? AND committed = ?`
	res, err := l.db.ExecContext(ctx, q, committed, date, slot, expected)
	if err != nil {
		return false, l.wrap("compare-and-set", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, l.wrap("compare-and-set", err)
	}
	return n == 1, nil
}

func (l *MySQL) wrap(op string, err error) error {
	var myErr *mysql.MySQLError
	if isTimeout(err) || (errors.As(err, &myErr) && (myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock)) {
		return fmt.Errorf("%w: mysql %s: %v", ErrCheckTimeout, op, err)
	}
	return fmt.Errorf("ledger: mysql %s: %w", op, err)
}
