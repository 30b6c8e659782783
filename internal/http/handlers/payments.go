package handlers

import (
	"io"
	"net/http"

	"sacco/internal/http/middleware"
	"sacco/internal/mpesa"
	"sacco/internal/utils"

	"github.com/gin-gonic/gin"
)

// maxCallbackBytes bounds provider callback bodies.
const maxCallbackBytes = 64 << 10

type initiateRequest struct {
	Phone string `json:"phone"`
}

// InitiatePayment handles POST /api/payments/:id/mpesa. The phone is
// optional and defaults to the passenger's or sender's number.
func (a API) InitiatePayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req initiateRequest
	if c.Request.ContentLength > 0 && !BindJSONOrError(c, &req) {
		return
	}

	p, err := a.Payments.InitiatePayment(c.Request.Context(), actor(c), id, req.Phone)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"payment": p,
		"message": "Check your phone and enter your M-Pesa PIN to complete payment.",
	})
}

// PaymentStatus handles GET /api/payments/:id/status.
func (a API) PaymentStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	view, err := a.Payments.PollStatus(c.Request.Context(), actor(c), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CreateParcelPayment handles POST /api/parcels/:id/payments.
func (a API) CreateParcelPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := a.Payments.CreateParcelPayment(c.Request.Context(), actor(c), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// MpesaCallback handles POST /api/payments/callback/mpesa. Anything the
// provider should not resend is acknowledged, including callbacks for
// unknown or already settled transactions.
func (a API) MpesaCallback(c *gin.Context) {
	reqID := middleware.GetRequestID(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Unreadable body"})
		return
	}
	cb, err := mpesa.ParseCallback(body)
	if err != nil {
		utils.LogEvent(reqID, "payment", "callback_rejected", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Malformed callback"})
		return
	}

	outcome, err := a.Payments.HandleWebhook(c.Request.Context(), cb)
	if err != nil {
		logError(c, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "Temporary failure"})
		return
	}
	utils.LogEvent(reqID, "payment", "callback", "checkout="+cb.CheckoutRequestID+" outcome="+string(outcome))
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
