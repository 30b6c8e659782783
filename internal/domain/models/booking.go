package models

import "time"

type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingCheckedIn      BookingStatus = "checked_in"
	BookingCompleted      BookingStatus = "completed"
	BookingCancelled      BookingStatus = "cancelled"
)

// BlockingStatuses hold a seat against new reservations. The storage
// uniqueness constraint on (trip_id, seat_number) covers exactly this set.
var BlockingStatuses = []BookingStatus{
	BookingPendingPayment,
	BookingConfirmed,
	BookingCheckedIn,
}

// Blocking reports whether the status holds the seat.
func (s BookingStatus) Blocking() bool {
	switch s {
	case BookingPendingPayment, BookingConfirmed, BookingCheckedIn:
		return true
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPendingPayment: {BookingConfirmed, BookingCancelled},
	BookingConfirmed:      {BookingCheckedIn, BookingCompleted, BookingCancelled},
	BookingCheckedIn:      {BookingCompleted, BookingCancelled},
}

// CanMoveTo reports whether the booking lifecycle allows s -> next.
func (s BookingStatus) CanMoveTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Booking is one passenger's claim on one seat of one trip.
type Booking struct {
	ID         int64         `json:"id"`
	TripID     int64         `json:"trip_id"`
	UserID     int64         `json:"user_id,omitempty"`
	SeatNumber string        `json:"seat_number"`
	Status     BookingStatus `json:"status"`
	Fare       int64         `json:"fare"`
	Reference  string        `json:"reference"`

	PassengerName     string `json:"passenger_name"`
	PassengerPhone    string `json:"passenger_phone"`
	PassengerAge      int    `json:"passenger_age,omitempty"`
	PassengerSex      string `json:"passenger_sex,omitempty"`
	PassengerIDNumber string `json:"passenger_id_number,omitempty"`

	// HoldExpiresAt is set while the booking waits for payment.
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HoldExpired reports whether an unpaid hold has lapsed at now.
func (b Booking) HoldExpired(now time.Time) bool {
	return b.Status == BookingPendingPayment && b.HoldExpiresAt != nil && !now.Before(*b.HoldExpiresAt)
}

// PassengerInput carries the details submitted with a seat reservation.
type PassengerInput struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Age      int    `json:"age"`
	Sex      string `json:"sex"`
	IDNumber string `json:"id_number"`
}

// Ticket is issued once per booking when it is confirmed.
type Ticket struct {
	ID        int64     `json:"id"`
	BookingID int64     `json:"booking_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
}
