package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sacco/internal/broadcast"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/notify"
	"sacco/internal/paystate"
	"sacco/internal/repositories"
	"sacco/internal/utils"
)

// BookingService drives staff and rider transitions of the booking
// lifecycle. Payment-driven transitions live in PaymentService.
type BookingService struct {
	Store    repositories.Store
	Hub      broadcast.Hub
	Notifier notify.Notifier
	Cache    paystate.StatusCache
	Now      func() time.Time
}

type BookingView struct {
	Booking  models.Booking   `json:"booking"`
	Payments []models.Payment `json:"payments"`
	Ticket   *models.Ticket   `json:"ticket,omitempty"`
}

func (s BookingService) now() time.Time { return nowFunc(s.Now) }

func (s BookingService) Get(ctx context.Context, actor domain.Actor, bookingID int64) (BookingView, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return BookingView{}, storageErr(err, "failed to load booking")
	}
	if err := owns(actor, b.UserID, "booking"); err != nil {
		return BookingView{}, err
	}

	payments, err := s.Store.ListBookingPayments(ctx, bookingID)
	if err != nil {
		return BookingView{}, storageErr(err, "failed to load payments")
	}
	view := BookingView{Booking: b, Payments: payments}
	t, err := s.Store.GetTicketByBooking(ctx, bookingID)
	switch {
	case err == nil:
		view.Ticket = &t
	case !domain.IsNotFound(err):
		return BookingView{}, storageErr(err, "failed to load ticket")
	}
	return view, nil
}

// CheckIn marks a confirmed passenger as boarded.
func (s BookingService) CheckIn(ctx context.Context, actor domain.Actor, bookingID int64) (models.Booking, error) {
	if err := requireStaff(actor); err != nil {
		return models.Booking{}, err
	}
	return s.checkIn(ctx, func(r repositories.Repository) (models.Booking, error) {
		return r.GetBookingForUpdate(ctx, bookingID)
	})
}

// CheckInSeat finds the booking holding a seat, for staff working from the
// vehicle seat map.
func (s BookingService) CheckInSeat(ctx context.Context, actor domain.Actor, tripID int64, seat string) (models.Booking, error) {
	if err := requireStaff(actor); err != nil {
		return models.Booking{}, err
	}
	seat = utils.NormalizeSeat(seat)
	return s.checkIn(ctx, func(r repositories.Repository) (models.Booking, error) {
		return r.FindActiveBookingBySeat(ctx, tripID, seat)
	})
}

func (s BookingService) checkIn(ctx context.Context, load func(repositories.Repository) (models.Booking, error)) (models.Booking, error) {
	var (
		fx  effects
		out models.Booking
	)
	err := s.Store.InTx(ctx, func(r repositories.Repository) error {
		b, err := load(r)
		if err != nil {
			return err
		}
		if !b.Status.CanMoveTo(models.BookingCheckedIn) {
			return domain.InvalidTransitionError{Resource: "booking", From: string(b.Status), To: string(models.BookingCheckedIn)}
		}
		trip, err := r.GetTrip(ctx, b.TripID)
		if err != nil {
			return err
		}
		if trip.Status != models.TripScheduled && trip.Status != models.TripInProgress {
			return domain.ConflictError{Resource: "trip", Msg: fmt.Sprintf("trip is %s", trip.Status)}
		}
		if err := r.UpdateBookingStatus(ctx, b.ID, models.BookingCheckedIn); err != nil {
			return err
		}
		b.Status = models.BookingCheckedIn
		b.HoldExpiresAt = nil
		out = b
		fx.notify(notify.CheckedIn(b, trip))
		return nil
	})
	if err != nil {
		return models.Booking{}, storageErr(err, "failed to check in")
	}
	fx.fire(ctx, s.Hub, s.Notifier, nil)
	utils.LogEvent("", "booking", "checked_in", "booking="+strconv.FormatInt(out.ID, 10))
	return out, nil
}

// Cancel lets a rider drop an unpaid hold. Staff may cancel any
// non-terminal booking; collected money is flagged refund_pending.
func (s BookingService) Cancel(ctx context.Context, actor domain.Actor, bookingID int64) (models.Booking, error) {
	var (
		fx  effects
		out models.Booking
	)
	now := s.now()
	err := s.Store.InTx(ctx, func(r repositories.Repository) error {
		b, err := r.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := owns(actor, b.UserID, "booking"); err != nil {
			return err
		}
		if !b.Status.CanMoveTo(models.BookingCancelled) {
			return domain.InvalidTransitionError{Resource: "booking", From: string(b.Status), To: string(models.BookingCancelled)}
		}
		if !actor.IsStaff() && b.Status != models.BookingPendingPayment {
			return domain.ConflictError{Resource: "booking", Msg: "paid bookings can only be cancelled by staff"}
		}
		if err := cancelBooking(ctx, r, &b, now, "cancelled", &fx); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return models.Booking{}, storageErr(err, "failed to cancel booking")
	}
	fx.fire(ctx, s.Hub, s.Notifier, s.Cache)
	utils.LogEvent("", "booking", "cancelled", fmt.Sprintf("booking=%d actor=%d role=%s", out.ID, actor.UserID, actor.Role))
	return out, nil
}

// TransitionTrip applies a staff status change to a trip and cascades it to
// the trip's bookings.
func (s BookingService) TransitionTrip(ctx context.Context, actor domain.Actor, tripID int64, to models.TripStatus) (models.Trip, error) {
	if err := requireStaff(actor); err != nil {
		return models.Trip{}, err
	}
	switch to {
	case models.TripInProgress:
		return s.StartTrip(ctx, tripID)
	case models.TripCompleted:
		return s.CompleteTrip(ctx, tripID)
	case models.TripCancelled:
		return s.CancelTrip(ctx, tripID)
	}
	return models.Trip{}, domain.ValidationError{Field: "status", Msg: "unsupported trip status"}
}

func (s BookingService) StartTrip(ctx context.Context, tripID int64) (models.Trip, error) {
	return s.moveTrip(ctx, tripID, models.TripInProgress, nil)
}

// CompleteTrip moves every confirmed or boarded booking to completed. Holds
// that were never paid are cancelled.
func (s BookingService) CompleteTrip(ctx context.Context, tripID int64) (models.Trip, error) {
	now := s.now()
	return s.moveTrip(ctx, tripID, models.TripCompleted, func(r repositories.Repository, trip models.Trip, fx *effects) error {
		bookings, err := r.ListTripBookingsForUpdate(ctx, tripID, models.BlockingStatuses)
		if err != nil {
			return err
		}
		for i := range bookings {
			b := &bookings[i]
			if b.Status == models.BookingPendingPayment {
				if err := cancelBooking(ctx, r, b, now, "trip completed before payment", fx); err != nil {
					return err
				}
				continue
			}
			if err := r.UpdateBookingStatus(ctx, b.ID, models.BookingCompleted); err != nil {
				return err
			}
			b.Status = models.BookingCompleted
			fx.notify(notify.TripCompleted(*b, trip))
		}
		return nil
	})
}

// CancelTrip cancels every live booking on the trip and frees the seats.
func (s BookingService) CancelTrip(ctx context.Context, tripID int64) (models.Trip, error) {
	now := s.now()
	return s.moveTrip(ctx, tripID, models.TripCancelled, func(r repositories.Repository, trip models.Trip, fx *effects) error {
		bookings, err := r.ListTripBookingsForUpdate(ctx, tripID, models.BlockingStatuses)
		if err != nil {
			return err
		}
		for i := range bookings {
			if err := cancelBooking(ctx, r, &bookings[i], now, "trip cancelled", fx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s BookingService) moveTrip(ctx context.Context, tripID int64, to models.TripStatus, cascade func(repositories.Repository, models.Trip, *effects) error) (models.Trip, error) {
	var (
		fx  effects
		out models.Trip
	)
	err := s.Store.InTx(ctx, func(r repositories.Repository) error {
		trip, err := r.GetTripForUpdate(ctx, tripID)
		if err != nil {
			return err
		}
		if !trip.Status.CanMoveTo(to) {
			return domain.InvalidTransitionError{Resource: "trip", From: string(trip.Status), To: string(to)}
		}
		if err := r.UpdateTripStatus(ctx, tripID, to); err != nil {
			return err
		}
		trip.Status = to
		if cascade != nil {
			if err := cascade(r, trip, &fx); err != nil {
				return err
			}
		}
		out = trip
		return nil
	})
	if err != nil {
		return models.Trip{}, storageErr(err, "failed to update trip")
	}
	fx.fire(ctx, s.Hub, s.Notifier, s.Cache)
	utils.LogEvent("", "trip", "status_changed", fmt.Sprintf("trip=%d status=%s", tripID, to))
	return out, nil
}

// cancelBooking cancels b and settles its payments inside the caller's
// transaction. A pending attempt that never reached the provider fails; one
// with a push in flight stays pending so a late success can still be caught
// as refund_pending. A completed payment becomes refund_pending.
func cancelBooking(ctx context.Context, r repositories.Repository, b *models.Booking, now time.Time, reason string, fx *effects) error {
	if err := r.UpdateBookingStatus(ctx, b.ID, models.BookingCancelled); err != nil {
		return err
	}
	payments, err := r.ListBookingPaymentsForUpdate(ctx, b.ID)
	if err != nil {
		return err
	}
	refundDue := false
	for _, p := range payments {
		switch p.Status {
		case models.PaymentPending:
			if p.TransactionID != "" {
				continue
			}
			p.Status = models.PaymentFailed
			p.ResultDesc = reason
		case models.PaymentCompleted:
			p.Status = models.PaymentRefundPending
			refundDue = true
		default:
			continue
		}
		p.UpdatedAt = now
		if err := r.UpdatePayment(ctx, p); err != nil {
			return err
		}
		fx.status(p.ID, paystate.Status{Status: string(p.Status), Message: statusMessage(p)})
	}

	b.Status = models.BookingCancelled
	b.HoldExpiresAt = nil
	fx.event(broadcast.SeatFreed, b.TripID, b.SeatNumber, b.ID, now)
	fx.notify(notify.BookingCancelled(*b, refundDue))
	return nil
}
