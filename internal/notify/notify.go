// Package notify hands passenger and parcel messages to a delivery channel
// without holding up the booking or payment transition that produced them.
package notify

import (
	"context"
	"time"
)

const (
	KindBookingConfirmed = "booking_confirmed"
	KindCheckedIn        = "booking_checked_in"
	KindTripCompleted    = "booking_completed"
	KindBookingCancelled = "booking_cancelled"
	KindParcelPaid       = "parcel_payment_confirmed"
	KindParcelIncoming   = "parcel_receiver_notification"
)

type Message struct {
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender delivers one message. Implementations may block on I/O.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Notifier accepts messages without blocking. It reports false when the
// message was dropped.
type Notifier interface {
	Enqueue(m Message) bool
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Enqueue(Message) bool { return false }
