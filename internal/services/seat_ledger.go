package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sacco/internal/broadcast"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/repositories"
	"sacco/internal/utils"
)

// DefaultHoldTTL bounds how long an unpaid reservation blocks its seat.
const DefaultHoldTTL = 10 * time.Minute

// SeatLedger answers seat availability from live booking rows and creates
// reservations. The unique key on active seats is the final arbiter; the
// checks here only fail fast.
type SeatLedger struct {
	Store   repositories.Store
	Hub     broadcast.Hub
	HoldTTL time.Duration
	Now     func() time.Time
}

type SeatMap struct {
	TripID    int64             `json:"trip_id"`
	Status    models.TripStatus `json:"trip_status"`
	Layout    []string          `json:"layout"`
	Taken     []string          `json:"taken"`
	Available []string          `json:"available"`
}

type ReserveInput struct {
	TripID    int64
	Seat      string
	UserID    int64
	Passenger models.PassengerInput
}

type Reservation struct {
	Booking models.Booking `json:"booking"`
	Payment models.Payment `json:"payment"`
}

func (l SeatLedger) now() time.Time { return nowFunc(l.Now) }

func (l SeatLedger) holdTTL() time.Duration {
	if l.HoldTTL > 0 {
		return l.HoldTTL
	}
	return DefaultHoldTTL
}

// AvailableSeats is recomputed on every call.
func (l SeatLedger) AvailableSeats(ctx context.Context, tripID int64) (SeatMap, error) {
	trip, err := l.Store.GetTrip(ctx, tripID)
	if err != nil {
		return SeatMap{}, storageErr(err, "failed to load trip")
	}
	taken, err := l.Store.ListTakenSeats(ctx, tripID, l.now())
	if err != nil {
		return SeatMap{}, storageErr(err, "failed to load seats")
	}
	return buildSeatMap(trip, taken), nil
}

func buildSeatMap(trip models.Trip, taken []string) SeatMap {
	takenSet := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		takenSet[s] = struct{}{}
	}
	m := SeatMap{
		TripID:    trip.ID,
		Status:    trip.Status,
		Layout:    trip.SeatLayout,
		Taken:     []string{},
		Available: []string{},
	}
	for _, s := range trip.SeatLayout {
		if _, ok := takenSet[s]; ok {
			m.Taken = append(m.Taken, s)
			continue
		}
		m.Available = append(m.Available, s)
	}
	return m
}

func (l SeatLedger) IsTaken(ctx context.Context, tripID int64, seat string) (bool, error) {
	taken, err := l.Store.SeatTaken(ctx, tripID, utils.NormalizeSeat(seat), l.now())
	if err != nil {
		return false, storageErr(err, "failed to check seat")
	}
	return taken, nil
}

// Reserve holds the seat in pending_payment and opens its pending payment.
// A lost race surfaces as domain.SeatTakenError.
func (l SeatLedger) Reserve(ctx context.Context, in ReserveInput) (Reservation, error) {
	seat := utils.NormalizeSeat(in.Seat)
	if err := validateReserve(in, seat); err != nil {
		return Reservation{}, err
	}

	var fx effects
	freed := l.purgeExpired(ctx, in.TripID, &fx)

	now := l.now()
	var out Reservation
	err := l.Store.InTx(ctx, func(r repositories.Repository) error {
		trip, err := r.GetTripForShare(ctx, in.TripID)
		if err != nil {
			return err
		}
		if trip.Status != models.TripScheduled {
			return domain.ConflictError{Resource: "trip", Msg: fmt.Sprintf("trip is %s, not open for booking", trip.Status)}
		}
		if !trip.HasSeat(seat) {
			return domain.ValidationError{Field: "seat_number", Msg: "seat does not exist on this trip"}
		}
		taken, err := r.SeatTaken(ctx, trip.ID, seat, now)
		if err != nil {
			return err
		}
		if taken {
			return domain.SeatTakenError{TripID: trip.ID, Seat: seat}
		}

		hold := now.Add(l.holdTTL())
		b := models.Booking{
			TripID:            trip.ID,
			UserID:            in.UserID,
			SeatNumber:        seat,
			Status:            models.BookingPendingPayment,
			Fare:              trip.BaseFare,
			Reference:         newReference("BK", now),
			PassengerName:     utils.NormalizeSpace(in.Passenger.Name),
			PassengerPhone:    strings.TrimSpace(in.Passenger.Phone),
			PassengerAge:      in.Passenger.Age,
			PassengerSex:      strings.TrimSpace(in.Passenger.Sex),
			PassengerIDNumber: strings.TrimSpace(in.Passenger.IDNumber),
			HoldExpiresAt:     &hold,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := r.InsertBooking(ctx, &b); err != nil {
			return err
		}

		p := models.Payment{
			BookingID: b.ID,
			UserID:    in.UserID,
			Amount:    b.Fare,
			Method:    models.MethodPending,
			Status:    models.PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.InsertPayment(ctx, &p); err != nil {
			return err
		}
		out = Reservation{Booking: b, Payment: p}
		return nil
	})
	if err != nil {
		// Purged holds are gone whether or not this attempt won the seat.
		fx.fire(ctx, l.Hub, nil, nil)
		if domain.IsSeatTaken(err) {
			utils.LogEvent("", "booking", "reserve_conflict", fmt.Sprintf("trip=%d seat=%s", in.TripID, seat))
			return Reservation{}, err
		}
		return Reservation{}, storageErr(err, "failed to reserve seat")
	}

	fx.event(broadcast.SeatHeld, out.Booking.TripID, out.Booking.SeatNumber, out.Booking.ID, now)
	fx.fire(ctx, l.Hub, nil, nil)
	utils.LogEvent("", "booking", "reserved", fmt.Sprintf("booking=%d trip=%d seat=%s purged=%d", out.Booking.ID, out.Booking.TripID, seat, freed))
	return out, nil
}

// purgeExpired deletes lapsed holds on the trip so their seats can be taken
// again. Failures are logged; the reservation still runs.
func (l SeatLedger) purgeExpired(ctx context.Context, tripID int64, fx *effects) int {
	now := l.now()
	var expired []models.Booking
	err := l.Store.InTx(ctx, func(r repositories.Repository) error {
		var err error
		expired, err = r.ListExpiredHoldsForUpdate(ctx, tripID, now)
		if err != nil || len(expired) == 0 {
			return err
		}
		ids := make([]int64, len(expired))
		for i, b := range expired {
			ids[i] = b.ID
		}
		return r.DeleteBookings(ctx, ids)
	})
	if err != nil {
		utils.LogEvent("", "booking", "purge_failed", fmt.Sprintf("trip=%d err=%v", tripID, err))
		return 0
	}
	for _, b := range expired {
		fx.event(broadcast.SeatFreed, b.TripID, b.SeatNumber, b.ID, now)
	}
	return len(expired)
}

func validateReserve(in ReserveInput, seat string) error {
	if in.TripID <= 0 {
		return domain.ValidationError{Field: "trip_id", Msg: "invalid trip"}
	}
	if seat == "" {
		return domain.ValidationError{Field: "seat_number", Msg: "seat is required"}
	}
	if strings.TrimSpace(in.Passenger.Name) == "" {
		return domain.ValidationError{Field: "passenger.name", Msg: "name is required"}
	}
	if strings.TrimSpace(in.Passenger.Phone) == "" {
		return domain.ValidationError{Field: "passenger.phone", Msg: "phone is required"}
	}
	if in.Passenger.Age < 0 || in.Passenger.Age > 130 {
		return domain.ValidationError{Field: "passenger.age", Msg: "age out of range"}
	}
	return nil
}

// storageErr passes domain errors through and wraps everything else as a
// retryable internal failure.
func storageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if domain.IsNotFound(err) || domain.IsValidation(err) || domain.IsConflict(err) ||
		domain.IsForbidden(err) || domain.IsProviderUnavailable(err) || domain.IsInternal(err) {
		return err
	}
	return domain.InternalError{Msg: msg, Err: err}
}
