package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"sacco/internal/domain"
	"sacco/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

// ErrorResponse standardizes error payloads.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string, details any) {
	if code == "" {
		code = http.StatusText(status)
	}
	c.JSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: middleware.GetRequestID(c),
	})
}

// RespondDomainError maps domain errors to HTTP responses. Internal causes
// are logged, never returned.
func RespondDomainError(c *gin.Context, err error) {
	var (
		validation  domain.ValidationError
		unavailable domain.ProviderUnavailableError
		seat        domain.SeatTakenError
	)
	switch {
	case errors.As(err, &validation):
		var details any
		if validation.Field != "" {
			details = gin.H{"field": validation.Field}
		}
		respondError(c, http.StatusBadRequest, "validation_error", err.Error(), details)
	case domain.IsForbidden(err):
		respondError(c, http.StatusForbidden, "forbidden", err.Error(), nil)
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &seat):
		respondError(c, http.StatusConflict, "seat_taken", "seat already taken, please choose another seat", gin.H{"seat": seat.Seat})
	case domain.IsInvalidTransition(err):
		respondError(c, http.StatusConflict, "invalid_transition", err.Error(), nil)
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.As(err, &unavailable):
		var details any
		if secs := retrySeconds(unavailable); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
			details = gin.H{"retry_after_seconds": secs}
		}
		respondError(c, http.StatusServiceUnavailable, "provider_unavailable", err.Error(), details)
	default:
		logError(c, err)
		respondError(c, http.StatusInternalServerError, "internal_error", "something went wrong, please try again", nil)
	}
}

func retrySeconds(e domain.ProviderUnavailableError) int {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int(e.RetryAfter.Seconds())
	if float64(secs) < e.RetryAfter.Seconds() {
		secs++
	}
	return secs
}
