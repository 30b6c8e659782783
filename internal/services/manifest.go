package services

import (
	"context"

	"sacco/internal/domain"
	"sacco/internal/domain/models"
)

// manifestStatuses are the bookings a conductor expects on board.
var manifestStatuses = []models.BookingStatus{
	models.BookingConfirmed,
	models.BookingCheckedIn,
	models.BookingCompleted,
}

type ManifestEntry struct {
	BookingID  int64                `json:"booking_id"`
	Reference  string               `json:"reference"`
	SeatNumber string               `json:"seat_number"`
	Status     models.BookingStatus `json:"status"`
	Name       string               `json:"passenger_name"`
	Phone      string               `json:"passenger_phone"`
	IDNumber   string               `json:"passenger_id_number,omitempty"`
	Fare       int64                `json:"fare"`
}

// Manifest is the staff passenger list for one trip with its takings.
type Manifest struct {
	Trip       models.Trip           `json:"trip"`
	Passengers []ManifestEntry       `json:"passengers"`
	Boarded    int                   `json:"boarded"`
	Remaining  int                   `json:"seats_remaining"`
	Payments   []models.PaymentTotal `json:"payments"`
}

func (s BookingService) Manifest(ctx context.Context, actor domain.Actor, tripID int64) (Manifest, error) {
	if err := requireStaff(actor); err != nil {
		return Manifest{}, err
	}
	trip, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return Manifest{}, storageErr(err, "failed to load trip")
	}
	bookings, err := s.Store.ListTripBookings(ctx, tripID, manifestStatuses)
	if err != nil {
		return Manifest{}, storageErr(err, "failed to load passengers")
	}
	taken, err := s.Store.ListTakenSeats(ctx, tripID, s.now())
	if err != nil {
		return Manifest{}, storageErr(err, "failed to load seats")
	}
	totals, err := s.Store.TripPaymentTotals(ctx, tripID)
	if err != nil {
		return Manifest{}, storageErr(err, "failed to load payments")
	}

	m := Manifest{
		Trip:       trip,
		Passengers: make([]ManifestEntry, 0, len(bookings)),
		Remaining:  len(buildSeatMap(trip, taken).Available),
		Payments:   totals,
	}
	for _, b := range bookings {
		if b.Status == models.BookingCheckedIn || b.Status == models.BookingCompleted {
			m.Boarded++
		}
		m.Passengers = append(m.Passengers, ManifestEntry{
			BookingID:  b.ID,
			Reference:  b.Reference,
			SeatNumber: b.SeatNumber,
			Status:     b.Status,
			Name:       b.PassengerName,
			Phone:      b.PassengerPhone,
			IDNumber:   b.PassengerIDNumber,
			Fare:       b.Fare,
		})
	}
	return m, nil
}
