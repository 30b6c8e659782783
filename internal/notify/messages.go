package notify

import (
	"fmt"

	"sacco/internal/domain/models"
	"sacco/internal/utils"
)

func BookingConfirmed(b models.Booking, trip models.Trip, amount int64) Message {
	return Message{
		Kind:      KindBookingConfirmed,
		To:        NormalizePhone(b.PassengerPhone),
		Reference: b.Reference,
		Body: fmt.Sprintf(
			"SACCO: Payment of KES %s received. Booking %s is CONFIRMED. %s to %s on %s at %s, seat %s, vehicle %s. Please arrive 30 mins early.",
			utils.FormatKES(amount), b.Reference, trip.Origin, trip.Destination,
			utils.FormatDate(trip.DepartAt), utils.FormatClock(trip.DepartAt), b.SeatNumber, plateOrTBA(trip.VehiclePlate),
		),
	}
}

func CheckedIn(b models.Booking, trip models.Trip) Message {
	return Message{
		Kind:      KindCheckedIn,
		To:        NormalizePhone(b.PassengerPhone),
		Reference: b.Reference,
		Body: fmt.Sprintf(
			"SACCO: Thank you %s for checking in. %s to %s, seat %s. Safe journey!",
			b.PassengerName, trip.Origin, trip.Destination, b.SeatNumber,
		),
	}
}

func TripCompleted(b models.Booking, trip models.Trip) Message {
	return Message{
		Kind:      KindTripCompleted,
		To:        NormalizePhone(b.PassengerPhone),
		Reference: b.Reference,
		Body: fmt.Sprintf(
			"SACCO: Trip completed. Thank you for traveling with us from %s to %s, %s. We look forward to serving you again.",
			trip.Origin, trip.Destination, b.PassengerName,
		),
	}
}

// BookingCancelled mentions a refund only when money was collected.
func BookingCancelled(b models.Booking, refundDue bool) Message {
	body := fmt.Sprintf("SACCO: Your booking %s has been cancelled.", b.Reference)
	if refundDue {
		body += " Your payment will be refunded by our staff."
	}
	return Message{
		Kind:      KindBookingCancelled,
		To:        NormalizePhone(b.PassengerPhone),
		Reference: b.Reference,
		Body:      body,
	}
}

// ParcelPaid notifies both ends of the consignment.
func ParcelPaid(p models.Parcel) []Message {
	return []Message{
		{
			Kind:      KindParcelPaid,
			To:        NormalizePhone(p.SenderPhone),
			Reference: p.RefCode,
			Body: fmt.Sprintf(
				"SACCO: Payment of KES %s confirmed for parcel %s from %s to %s. Receiver: %s (%s).",
				utils.FormatKES(p.Price), p.RefCode, p.Origin, p.Destination, p.ReceiverName, p.ReceiverPhone,
			),
		},
		{
			Kind:      KindParcelIncoming,
			To:        NormalizePhone(p.ReceiverPhone),
			Reference: p.RefCode,
			Body: fmt.Sprintf(
				"SACCO: Hello %s, parcel %s from %s (%s) is paid and will be sent to %s.",
				p.ReceiverName, p.RefCode, p.SenderName, p.SenderPhone, p.Destination,
			),
		},
	}
}

func plateOrTBA(plate string) string {
	if plate == "" {
		return "TBA"
	}
	return plate
}
