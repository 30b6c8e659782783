package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	intdb "sacco/internal/db"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
)

// A seat is taken by any confirmed or boarded booking, and by a pending one
// whose hold has not lapsed.
const takenPredicate = `
	(status IN ('confirmed', 'checked_in', 'completed')
	 OR (status = 'pending_payment' AND (hold_expires_at IS NULL OR hold_expires_at > ?)))`

const bookingColumns = `
	id, trip_id, user_id, seat_number, status, fare, reference,
	passenger_name, passenger_phone, passenger_age, passenger_sex, passenger_id_number,
	hold_expires_at, created_at, updated_at`

func (r *Queries) ListTakenSeats(ctx context.Context, tripID int64, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seat_number
		FROM bookings
		WHERE trip_id = ? AND `+takenPredicate+`
		ORDER BY seat_number ASC`, tripID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var seat string
		if err := rows.Scan(&seat); err != nil {
			return out, err
		}
		out = append(out, seat)
	}
	return out, rows.Err()
}

func (r *Queries) SeatTaken(ctx context.Context, tripID int64, seat string, now time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM bookings
		WHERE trip_id = ? AND seat_number = ? AND `+takenPredicate,
		tripID, seat, now).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListExpiredHoldsForUpdate locks the lapsed holds of one trip so they can be
// purged before the storage constraint rejects a new reservation.
func (r *Queries) ListExpiredHoldsForUpdate(ctx context.Context, tripID int64, now time.Time) ([]models.Booking, error) {
	return r.listBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE trip_id = ? AND status = 'pending_payment'
		  AND hold_expires_at IS NOT NULL AND hold_expires_at <= ?
		ORDER BY id ASC
		FOR UPDATE`, tripID, now)
}

// DeleteBookings removes bookings together with their payment attempts.
func (r *Queries) DeleteBookings(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	if _, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE booking_id IN (`+in+`)`, args...); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE id IN (`+in+`)`, args...)
	return err
}

// InsertBooking relies on the unique key over active seats; a duplicate maps
// to SeatTakenError.
func (r *Queries) InsertBooking(ctx context.Context, b *models.Booking) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings
			(trip_id, user_id, seat_number, status, fare, reference,
			 passenger_name, passenger_phone, passenger_age, passenger_sex, passenger_id_number,
			 hold_expires_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.TripID,
		intdb.NullIfZero(b.UserID),
		b.SeatNumber,
		string(b.Status),
		b.Fare,
		b.Reference,
		b.PassengerName,
		b.PassengerPhone,
		b.PassengerAge,
		b.PassengerSex,
		b.PassengerIDNumber,
		nullTime(b.HoldExpiresAt),
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if intdb.IsDuplicateKey(err) && strings.Contains(err.Error(), "active_seat") {
			return domain.SeatTakenError{TripID: b.TripID, Seat: b.SeatNumber, Err: err}
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

func (r *Queries) GetBooking(ctx context.Context, id int64) (models.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

func (r *Queries) GetBookingForUpdate(ctx context.Context, id int64) (models.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id)
}

// FindActiveBookingBySeat returns the booking currently blocking a seat.
func (r *Queries) FindActiveBookingBySeat(ctx context.Context, tripID int64, seat string) (models.Booking, error) {
	return r.getBooking(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE trip_id = ? AND active_seat = ?
		LIMIT 1
		FOR UPDATE`, tripID, seat)
}

// ListTripBookings returns the trip's bookings ordered by seat for the
// staff manifest.
func (r *Queries) ListTripBookings(ctx context.Context, tripID int64, statuses []models.BookingStatus) ([]models.Booking, error) {
	return r.listTripBookings(ctx, tripID, statuses, "seat_number ASC", "")
}

func (r *Queries) ListTripBookingsForUpdate(ctx context.Context, tripID int64, statuses []models.BookingStatus) ([]models.Booking, error) {
	return r.listTripBookings(ctx, tripID, statuses, "id ASC", " FOR UPDATE")
}

func (r *Queries) listTripBookings(ctx context.Context, tripID int64, statuses []models.BookingStatus, order, lock string) ([]models.Booking, error) {
	if len(statuses) == 0 {
		return []models.Booking{}, nil
	}
	marks := make([]string, len(statuses))
	args := []any{tripID}
	for i, s := range statuses {
		marks[i] = "?"
		args = append(args, string(s))
	}
	return r.listBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE trip_id = ? AND status IN (`+strings.Join(marks, ",")+`)
		ORDER BY `+order+lock, args...)
}

// UpdateBookingStatus also clears the hold deadline; only a fresh
// reservation carries one.
func (r *Queries) UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, hold_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	return requireRow(res, "booking")
}

func (r *Queries) getBooking(ctx context.Context, query string, args ...any) (models.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return models.Booking{}, notFound("booking", err)
	}
	return b, nil
}

func (r *Queries) listBookings(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var (
		b      models.Booking
		userID sql.NullInt64
		status string
		hold   sql.NullTime
	)
	err := row.Scan(
		&b.ID,
		&b.TripID,
		&userID,
		&b.SeatNumber,
		&status,
		&b.Fare,
		&b.Reference,
		&b.PassengerName,
		&b.PassengerPhone,
		&b.PassengerAge,
		&b.PassengerSex,
		&b.PassengerIDNumber,
		&hold,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return models.Booking{}, err
	}
	b.UserID = userID.Int64
	b.Status = models.BookingStatus(status)
	b.HoldExpiresAt = timePtr(hold)
	return b, nil
}

func inClause(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ","), args
}
