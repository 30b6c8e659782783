package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger prints one line per request with the request_id and, once
// authenticated, the caller.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		var userID int64
		if actor, ok := ActorFrom(c); ok {
			userID = actor.UserID
		}

		log.Printf("[HTTP] request_id=%s method=%s path=%s status=%d latency_ms=%.3f ip=%s user_id=%d",
			GetRequestID(c),
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			float64(latency.Microseconds())/1000.0,
			c.ClientIP(),
			userID,
		)
	}
}
