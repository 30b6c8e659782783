package repositories

import (
	"context"

	intdb "sacco/internal/db"
	"sacco/internal/domain/models"
)

// InsertTicket is idempotent per booking: it reports false when a ticket
// already exists.
func (r *Queries) InsertTicket(ctx context.Context, t *models.Ticket) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tickets (booking_id, code, issued_at)
		VALUES (?,?,?)`, t.BookingID, t.Code, t.IssuedAt)
	if err != nil {
		if intdb.IsDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	t.ID = id
	return true, nil
}

func (r *Queries) GetTicketByBooking(ctx context.Context, bookingID int64) (models.Ticket, error) {
	var t models.Ticket
	err := r.db.QueryRowContext(ctx, `
		SELECT id, booking_id, code, issued_at
		FROM tickets
		WHERE booking_id = ?`, bookingID).Scan(&t.ID, &t.BookingID, &t.Code, &t.IssuedAt)
	if err != nil {
		return models.Ticket{}, notFound("ticket", err)
	}
	return t, nil
}
