// Package paystate holds the ephemeral state the payment reconciler keeps in
// front of the provider: a short-lived status cache and a per-transaction
// query throttle. Neither is a source of truth. The memory implementations
// are lost on restart and are not shared between instances; the Redis ones
// are shared but still expire.
package paystate

import (
	"context"
	"time"
)

// Status is the last known view of one payment.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type StatusCache interface {
	Get(ctx context.Context, paymentID int64) (Status, bool, error)
	Set(ctx context.Context, paymentID int64, s Status) error
	Invalidate(ctx context.Context, paymentID int64) error
}

// Throttle admits at most one provider query per key per window.
type Throttle interface {
	// Reserve claims the slot before the caller talks to the provider. When
	// the slot is already held it reports false and how long remains. A
	// reserved slot is never handed back early.
	Reserve(ctx context.Context, key string) (bool, time.Duration, error)
}
