package handlers

import (
	"time"

	"sacco/internal/broadcast"
	"sacco/internal/services"
)

// DefaultHeartbeat is the keep-alive interval on idle seat streams.
const DefaultHeartbeat = 25 * time.Second

// API holds the services behind the booking, payment and trip routes.
type API struct {
	Ledger   services.SeatLedger
	Bookings services.BookingService
	Payments services.PaymentService
	Hub      broadcast.Hub

	Heartbeat time.Duration
}
