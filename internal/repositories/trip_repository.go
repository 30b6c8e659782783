package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sacco/internal/domain/models"
	"sacco/internal/utils"
)

const tripSelect = `
	SELECT t.id, t.route_code, t.origin, t.destination, t.vehicle_id, v.plate_no,
	       t.depart_at, t.base_fare, t.status, v.seat_layout
	FROM trips t
	JOIN vehicles v ON v.id = t.vehicle_id
	WHERE t.id = ?`

func (r *Queries) GetTrip(ctx context.Context, tripID int64) (models.Trip, error) {
	return r.getTrip(ctx, tripSelect, tripID)
}

// GetTripForShare lets reservations on one trip proceed in parallel while
// blocking a concurrent status change.
func (r *Queries) GetTripForShare(ctx context.Context, tripID int64) (models.Trip, error) {
	return r.getTrip(ctx, tripSelect+` FOR SHARE`, tripID)
}

// GetTripForUpdate locks the trip row so status changes serialize.
func (r *Queries) GetTripForUpdate(ctx context.Context, tripID int64) (models.Trip, error) {
	return r.getTrip(ctx, tripSelect+` FOR UPDATE`, tripID)
}

func (r *Queries) getTrip(ctx context.Context, query string, tripID int64) (models.Trip, error) {
	var (
		t      models.Trip
		status string
		layout []byte
	)
	err := r.db.QueryRowContext(ctx, query, tripID).Scan(
		&t.ID,
		&t.RouteCode,
		&t.Origin,
		&t.Destination,
		&t.VehicleID,
		&t.VehiclePlate,
		&t.DepartAt,
		&t.BaseFare,
		&status,
		&layout,
	)
	if err != nil {
		return models.Trip{}, notFound("trip", err)
	}
	t.Status = models.TripStatus(status)
	seats, err := ParseSeatLayout(layout)
	if err != nil {
		return models.Trip{}, fmt.Errorf("trip %d seat layout: %w", tripID, err)
	}
	t.SeatLayout = seats
	return t, nil
}

func (r *Queries) UpdateTripStatus(ctx context.Context, tripID int64, status models.TripStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE trips SET status=? WHERE id=?`, string(status), tripID)
	if err != nil {
		return err
	}
	return requireRow(res, "trip")
}

// ParseSeatLayout accepts either ["1","2"] or [{"seat":"1","label":"1A"}].
func ParseSeatLayout(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return cleanSeats(plain), nil
	}
	var objects []struct {
		Seat string `json:"seat"`
	}
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, err
	}
	seats := make([]string, 0, len(objects))
	for _, o := range objects {
		seats = append(seats, o.Seat)
	}
	return cleanSeats(seats), nil
}

func cleanSeats(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = utils.NormalizeSeat(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func requireRow(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(resource, sql.ErrNoRows)
	}
	return nil
}
