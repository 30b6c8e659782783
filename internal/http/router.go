package api

import (
	"log"
	stdhttp "net/http"

	intconfig "sacco/internal/config"
	"sacco/internal/domain"
	h "sacco/internal/http/handlers"
	"sacco/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

func NewRouter(env intconfig.Env, a h.API, auth h.Auth) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), gin.Recovery(), middleware.CORS(env.CORSAllowedOrigins))

	if err := r.SetTrustedProxies(nil); err != nil {
		log.Printf("warning: failed to set trusted proxies: %v", err)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{
			"error":  "route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/db-check", h.DBCheck)
		api.GET("/routes", h.Routes)

		// Auth
		authGroup := api.Group("/auth")
		authGroup.POST("/login", auth.Login)
		authGroup.POST("/register", auth.Register)

		// Provider callbacks carry no session; the checkout id is the only key.
		api.POST("/payments/callback/mpesa", a.MpesaCallback)

		authed := api.Group("", middleware.AuthRequired([]byte(env.JWTSecret)))

		// Trips & seats
		trips := authed.Group("/trips")
		trips.GET("/:id/seats", a.SeatMap)
		trips.GET("/:id/seats/stream", a.SeatStream)
		trips.POST("/:id/bookings", a.ReserveSeat)

		// Bookings
		bookings := authed.Group("/bookings")
		bookings.GET("/:id", a.GetBooking)
		bookings.POST("/:id/cancel", a.CancelBooking)

		// Payments
		payments := authed.Group("/payments")
		payments.POST("/:id/mpesa", a.InitiatePayment)
		payments.GET("/:id/status", a.PaymentStatus)

		// Parcels
		authed.POST("/parcels/:id/payments", a.CreateParcelPayment)

		// Staff operations
		staff := authed.Group("/staff", middleware.RequireRoles(domain.RoleStaff, domain.RoleAdmin))
		staff.POST("/bookings/:id/check-in", a.CheckIn)
		staff.POST("/bookings/:id/cancel", a.CancelBooking)
		staff.GET("/trips/:id/seats", a.SeatMap)
		staff.GET("/trips/:id/manifest", a.TripManifest)
		staff.POST("/trips/:id/seats/:seat/check-in", a.CheckInSeat)
		staff.POST("/trips/:id/status", a.TransitionTrip)
	}

	h.SetRouter(r)
	return r
}
