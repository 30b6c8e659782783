package mpesa

import (
	"fmt"
	"time"
)

// DefaultRetryAfter applies when a 429 carries no usable Retry-After header.
const DefaultRetryAfter = 10 * time.Second

// RateLimitError is returned when the provider answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("mpesa rate limited, retry after %s", e.RetryAfter)
}

// APIError is a non-success answer from the provider that carries no
// payment result.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa api error status=%d code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("mpesa api error status=%d: %s", e.Status, e.Message)
}

// Rejected reports whether the provider refused the request itself, as
// opposed to failing to process it.
func (e APIError) Rejected() bool {
	return e.Status < 500
}
