package handlers

import (
	"net/http"
	"time"

	"sacco/internal/domain/models"

	"github.com/gin-gonic/gin"
)

// SeatMap handles GET /api/trips/:id/seats.
func (a API) SeatMap(c *gin.Context) {
	tripID, ok := paramID(c, "id")
	if !ok {
		return
	}
	seats, err := a.Ledger.AvailableSeats(c.Request.Context(), tripID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, seats)
}

// SeatStream handles GET /api/trips/:id/seats/stream. The first event is a
// snapshot of the seat map; seat_held, seat_confirmed and seat_freed follow
// as they happen. Missed events are not replayed, so clients refetch the
// snapshot after reconnecting.
func (a API) SeatStream(c *gin.Context) {
	tripID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if a.Hub == nil {
		RespondError(c, http.StatusServiceUnavailable, "live seat updates unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	snapshot, err := a.Ledger.AvailableSeats(ctx, tripID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	events := a.Hub.Subscribe(tripID)
	defer a.Hub.Unsubscribe(tripID, events)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	interval := a.Heartbeat
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case at := <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": at.UTC()})
			c.Writer.Flush()
		}
	}
}

type tripStatusRequest struct {
	Status models.TripStatus `json:"status" binding:"required"`
}

// TransitionTrip handles POST /api/staff/trips/:id/status.
func (a API) TransitionTrip(c *gin.Context) {
	tripID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req tripStatusRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	trip, err := a.Bookings.TransitionTrip(c.Request.Context(), actor(c), tripID, req.Status)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip": trip})
}

// TripManifest handles GET /api/staff/trips/:id/manifest.
func (a API) TripManifest(c *gin.Context) {
	tripID, ok := paramID(c, "id")
	if !ok {
		return
	}
	m, err := a.Bookings.Manifest(c.Request.Context(), actor(c), tripID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
