package repositories

import (
	"context"
	"database/sql"
	"strings"

	intdb "sacco/internal/db"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
)

const paymentColumns = `
	id, booking_id, parcel_id, user_id, amount, payment_method, transaction_id,
	receipt_number, payer_phone, status, result_code, result_desc, paid_at,
	created_at, updated_at`

// InsertPayment fails with a ConflictError when the target already has a
// pending attempt or the transaction id is reused.
func (r *Queries) InsertPayment(ctx context.Context, p *models.Payment) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO payments
			(booking_id, parcel_id, user_id, amount, payment_method, transaction_id,
			 receipt_number, payer_phone, status, result_code, result_desc, paid_at,
			 created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		intdb.NullIfZero(p.BookingID),
		intdb.NullIfZero(p.ParcelID),
		intdb.NullIfZero(p.UserID),
		p.Amount,
		p.Method,
		intdb.NullIfEmpty(p.TransactionID),
		p.ReceiptNumber,
		p.PayerPhone,
		string(p.Status),
		p.ResultCode,
		p.ResultDesc,
		nullTime(p.PaidAt),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if intdb.IsDuplicateKey(err) {
			return domain.ConflictError{Resource: "payment", Msg: duplicatePaymentMsg(err), Err: err}
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func duplicatePaymentMsg(err error) string {
	if strings.Contains(err.Error(), "transaction") {
		return "transaction already recorded"
	}
	return "a payment is already pending"
}

func (r *Queries) GetPayment(ctx context.Context, id int64) (models.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
}

func (r *Queries) GetPaymentForUpdate(ctx context.Context, id int64) (models.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ? FOR UPDATE`, id)
}

// GetPaymentByTransactionForUpdate serializes concurrent settlement of the
// same provider transaction.
func (r *Queries) GetPaymentByTransactionForUpdate(ctx context.Context, transactionID string) (models.Payment, error) {
	return r.getPayment(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_id = ?
		FOR UPDATE`, transactionID)
}

func (r *Queries) GetPendingPaymentForBooking(ctx context.Context, bookingID int64) (models.Payment, error) {
	return r.getPayment(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE pending_booking = ?
		FOR UPDATE`, bookingID)
}

func (r *Queries) GetPendingPaymentForParcel(ctx context.Context, parcelID int64) (models.Payment, error) {
	return r.getPayment(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE pending_parcel = ?
		FOR UPDATE`, parcelID)
}

func (r *Queries) ListBookingPayments(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	return r.listBookingPayments(ctx, bookingID, "")
}

func (r *Queries) ListBookingPaymentsForUpdate(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	return r.listBookingPayments(ctx, bookingID, " FOR UPDATE")
}

func (r *Queries) listBookingPayments(ctx context.Context, bookingID int64, lock string) ([]models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = ?
		ORDER BY id ASC`+lock, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Queries) UpdatePayment(ctx context.Context, p models.Payment) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET payment_method = ?, transaction_id = ?, receipt_number = ?, payer_phone = ?,
		    status = ?, result_code = ?, result_desc = ?, paid_at = ?, updated_at = ?
		WHERE id = ?`,
		p.Method,
		intdb.NullIfEmpty(p.TransactionID),
		p.ReceiptNumber,
		p.PayerPhone,
		string(p.Status),
		p.ResultCode,
		p.ResultDesc,
		nullTime(p.PaidAt),
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		if intdb.IsDuplicateKey(err) {
			return domain.ConflictError{Resource: "payment", Msg: duplicatePaymentMsg(err), Err: err}
		}
		return err
	}
	return requireRow(res, "payment")
}

func (r *Queries) getPayment(ctx context.Context, query string, args ...any) (models.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return models.Payment{}, notFound("payment", err)
	}
	return p, nil
}

func scanPayment(row rowScanner) (models.Payment, error) {
	var (
		p         models.Payment
		bookingID sql.NullInt64
		parcelID  sql.NullInt64
		userID    sql.NullInt64
		txID      sql.NullString
		status    string
		paidAt    sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&bookingID,
		&parcelID,
		&userID,
		&p.Amount,
		&p.Method,
		&txID,
		&p.ReceiptNumber,
		&p.PayerPhone,
		&status,
		&p.ResultCode,
		&p.ResultDesc,
		&paidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return models.Payment{}, err
	}
	p.BookingID = bookingID.Int64
	p.ParcelID = parcelID.Int64
	p.UserID = userID.Int64
	p.TransactionID = txID.String
	p.Status = models.PaymentStatus(status)
	p.PaidAt = timePtr(paidAt)
	return p, nil
}

// TripPaymentTotals sums booking payments on a trip per payment status.
func (r *Queries) TripPaymentTotals(ctx context.Context, tripID int64) ([]models.PaymentTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.status, COUNT(1), COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE b.trip_id = ?
		GROUP BY p.status
		ORDER BY p.status ASC`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PaymentTotal{}
	for rows.Next() {
		var (
			t      models.PaymentTotal
			status string
		)
		if err := rows.Scan(&status, &t.Count, &t.Amount); err != nil {
			return out, err
		}
		t.Status = models.PaymentStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}
