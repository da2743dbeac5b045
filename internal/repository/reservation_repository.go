package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/table-reservation/internal/model"
)

const mysqlDuplicateEntry = 1062

// ReservationRepo stores reservations in the MySQL reservations table.  Dates
// and slot labels are kept as the fixed-width strings the calendar produces
// so that no time zone conversion happens between the service and storage.
// Timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, name, email, phone, slot_date, slot_time, party_size, notes, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		res   model.Reservation
		phone sql.NullString
		notes sql.NullString
	)
	err := s.Scan(&res.ID, &res.Name, &res.Email, &phone, &res.Date, &res.Slot,
		&res.PartySize, &notes, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if phone.Valid {
		p := phone.String
		res.Phone = &p
	}
	if notes.Valid {
		n := notes.String
		res.Notes = &n
	}
	return &res, nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// Create inserts res.  A duplicate id yields ErrConflict.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		res.ID, res.Name, res.Email, nullable(res.Phone), res.Date, res.Slot,
		res.PartySize, nullable(res.Notes), res.Status, res.CreatedAt.UTC(), res.UpdatedAt.UTC())
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return ErrConflict
	}
	return err
}

// GetByID returns the reservation with the given id or ErrNotFound.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// List returns reservations matching f ordered by date, slot and creation time.
func (r *ReservationRepo) List(ctx context.Context, f ListFilter) ([]model.Reservation, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Date != "" {
		where = append(where, "slot_date = ?")
		args = append(args, f.Date)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY slot_date, slot_time, created_at"
	return r.query(ctx, q, args...)
}

// ConfirmedBySlot returns the confirmed reservations of one slot.
func (r *ReservationRepo) ConfirmedBySlot(ctx context.Context, date, slot string) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE slot_date = ? AND slot_time = ? AND status = ? ORDER BY created_at`
	return r.query(ctx, q, date, slot, model.StatusConfirmed)
}

func (r *ReservationRepo) query(ctx context.Context, q string, args ...interface{}) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// SumConfirmed returns the total confirmed party size per slot on date.
// Slots without confirmed reservations are absent from the map.
func (r *ReservationRepo) SumConfirmed(ctx context.Context, date string) (map[string]int, error) {
	const q = `SELECT slot_time, SUM(party_size) FROM reservations
	           WHERE slot_date = ? AND status = ? GROUP BY slot_time`
	rows, err := r.db.QueryContext(ctx, q, date, model.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[string]int)
	for rows.Next() {
		var (
			slot  string
			total int
		)
		if err := rows.Scan(&slot, &total); err != nil {
			return nil, err
		}
		sums[slot] = total
	}
	return sums, rows.Err()
}

// MarkCancelled moves a confirmed reservation to cancelled and returns the
// updated record.  The status guard in the UPDATE makes the transition
// happen at most once even when cancels race.
func (r *ReservationRepo) MarkCancelled(ctx context.Context, id string, at time.Time) (*model.Reservation, error) {
	const q = `UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, q, model.StatusCancelled, at.UTC(), id, model.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	res, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrAlreadyCancelled
	}
	return res, nil
}
