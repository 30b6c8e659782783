package handlers

import (
	"log"
	"net/http"
	"strconv"

	"sacco/internal/domain"
	"sacco/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

// RespondError sends the standard error payload with request_id included.
func RespondError(c *gin.Context, status int, message string, err error) {
	var details any
	if err != nil {
		details = err.Error()
	}
	respondError(c, status, "", message, details)
}

// BindJSONOrError ensures body is present and parsable.
func BindJSONOrError[T any](c *gin.Context, dst *T) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		RespondError(c, http.StatusBadRequest, "empty body", nil)
		return false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid payload", err)
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return id, true
}

// actor returns the authenticated caller; routes mounting these handlers
// always run AuthRequired first.
func actor(c *gin.Context) domain.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

func logError(c *gin.Context, err error) {
	log.Printf("[HTTP] request_id=%s path=%s error=%v", middleware.GetRequestID(c), c.FullPath(), err)
}
