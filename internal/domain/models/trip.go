package models

import "time"

type TripStatus string

const (
	TripScheduled  TripStatus = "scheduled"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

var tripTransitions = map[TripStatus][]TripStatus{
	TripScheduled:  {TripInProgress, TripCancelled},
	TripInProgress: {TripCompleted, TripCancelled},
}

// CanMoveTo reports whether a trip may transition from s to next.
func (s TripStatus) CanMoveTo(next TripStatus) bool {
	for _, allowed := range tripTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Trip is a scheduled departure. SeatLayout is inherited from the vehicle.
type Trip struct {
	ID           int64      `json:"id"`
	RouteCode    string     `json:"route_code"`
	Origin       string     `json:"origin"`
	Destination  string     `json:"destination"`
	VehicleID    int64      `json:"vehicle_id"`
	VehiclePlate string     `json:"vehicle_plate"`
	DepartAt     time.Time  `json:"depart_at"`
	BaseFare     int64      `json:"base_fare"`
	Status       TripStatus `json:"status"`
	SeatLayout   []string   `json:"seat_layout"`
}

// HasSeat reports whether seat exists in the trip layout.
func (t Trip) HasSeat(seat string) bool {
	for _, s := range t.SeatLayout {
		if s == seat {
			return true
		}
	}
	return false
}
