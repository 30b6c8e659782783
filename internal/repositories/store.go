package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	intdb "sacco/internal/db"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
)

// Repository is the storage surface of the booking and payment core.
// Methods suffixed ForUpdate take row locks and are meant to run inside InTx.
type Repository interface {
	GetTrip(ctx context.Context, tripID int64) (models.Trip, error)
	GetTripForShare(ctx context.Context, tripID int64) (models.Trip, error)
	GetTripForUpdate(ctx context.Context, tripID int64) (models.Trip, error)
	UpdateTripStatus(ctx context.Context, tripID int64, status models.TripStatus) error

	ListTakenSeats(ctx context.Context, tripID int64, now time.Time) ([]string, error)
	SeatTaken(ctx context.Context, tripID int64, seat string, now time.Time) (bool, error)
	ListExpiredHoldsForUpdate(ctx context.Context, tripID int64, now time.Time) ([]models.Booking, error)
	DeleteBookings(ctx context.Context, ids []int64) error

	InsertBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id int64) (models.Booking, error)
	GetBookingForUpdate(ctx context.Context, id int64) (models.Booking, error)
	FindActiveBookingBySeat(ctx context.Context, tripID int64, seat string) (models.Booking, error)
	ListTripBookings(ctx context.Context, tripID int64, statuses []models.BookingStatus) ([]models.Booking, error)
	ListTripBookingsForUpdate(ctx context.Context, tripID int64, statuses []models.BookingStatus) ([]models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus) error

	InsertPayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id int64) (models.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (models.Payment, error)
	GetPaymentByTransactionForUpdate(ctx context.Context, transactionID string) (models.Payment, error)
	GetPendingPaymentForBooking(ctx context.Context, bookingID int64) (models.Payment, error)
	GetPendingPaymentForParcel(ctx context.Context, parcelID int64) (models.Payment, error)
	ListBookingPayments(ctx context.Context, bookingID int64) ([]models.Payment, error)
	ListBookingPaymentsForUpdate(ctx context.Context, bookingID int64) ([]models.Payment, error)
	UpdatePayment(ctx context.Context, p models.Payment) error
	TripPaymentTotals(ctx context.Context, tripID int64) ([]models.PaymentTotal, error)

	InsertTicket(ctx context.Context, t *models.Ticket) (bool, error)
	GetTicketByBooking(ctx context.Context, bookingID int64) (models.Ticket, error)

	GetParcel(ctx context.Context, id int64) (models.Parcel, error)
	GetParcelForUpdate(ctx context.Context, id int64) (models.Parcel, error)
	UpdateParcelStatus(ctx context.Context, id int64, status, paymentStatus string) error
}

// Store adds all-or-nothing transactions on top of Repository.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(Repository) error) error
}

// Queries implements Repository against MySQL. It runs on either the pool or
// a transaction.
type Queries struct {
	db intdb.DBTX
}

func NewQueries(db intdb.DBTX) *Queries {
	return &Queries{db: db}
}

// MySQLStore is the production Store.
type MySQLStore struct {
	*Queries
	DB *sql.DB
}

func NewStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{Queries: NewQueries(db), DB: db}
}

// InTx commits only when fn returns nil; any error or panic rolls back.
func (s *MySQLStore) InTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InternalError{Msg: "failed to open transaction", Err: err}
	}
	defer tx.Rollback()

	if err := fn(NewQueries(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.InternalError{Msg: "failed to commit transaction", Err: err}
	}
	return nil
}

func notFound(resource string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundError{Resource: resource, Err: err}
	}
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
