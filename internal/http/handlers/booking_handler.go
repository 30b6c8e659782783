package handlers

import (
	"net/http"

	"sacco/internal/domain/models"
	"sacco/internal/services"

	"github.com/gin-gonic/gin"
)

type reserveRequest struct {
	SeatNumber string                `json:"seat_number" binding:"required"`
	Passenger  models.PassengerInput `json:"passenger"`
}

// ReserveSeat handles POST /api/trips/:id/bookings.
func (a API) ReserveSeat(c *gin.Context) {
	tripID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req reserveRequest
	if !BindJSONOrError(c, &req) {
		return
	}

	res, err := a.Ledger.Reserve(c.Request.Context(), services.ReserveInput{
		TripID:    tripID,
		Seat:      req.SeatNumber,
		UserID:    actor(c).UserID,
		Passenger: req.Passenger,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetBooking handles GET /api/bookings/:id.
func (a API) GetBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	view, err := a.Bookings.Get(c.Request.Context(), actor(c), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelBooking serves both the rider and the staff cancel routes; the
// service applies the role rules.
func (a API) CancelBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := a.Bookings.Cancel(c.Request.Context(), actor(c), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// CheckIn handles POST /api/staff/bookings/:id/check-in.
func (a API) CheckIn(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := a.Bookings.CheckIn(c.Request.Context(), actor(c), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// CheckInSeat handles POST /api/staff/trips/:id/seats/:seat/check-in.
func (a API) CheckInSeat(c *gin.Context) {
	tripID, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := a.Bookings.CheckInSeat(c.Request.Context(), actor(c), tripID, c.Param("seat"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}
