package domain

import (
	"errors"
	"fmt"
	"time"
)

type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

// ForbiddenError rejects an authenticated caller lacking the required role.
type ForbiddenError struct {
	Msg string
}

func (e ForbiddenError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "forbidden"
}

type InternalError struct {
	Msg string
	Err error
}

func (e InternalError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

func (e InternalError) Unwrap() error { return e.Err }

// SeatTakenError means another active booking already holds the seat.
// Callers surface it as "choose another seat"; it is not a failure.
type SeatTakenError struct {
	TripID int64
	Seat   string
	Err    error
}

func (e SeatTakenError) Error() string {
	if e.Seat == "" {
		return "seat already taken"
	}
	return fmt.Sprintf("seat %s already taken", e.Seat)
}

func (e SeatTakenError) Unwrap() error { return e.Err }

// InvalidTransitionError rejects a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	Resource string
	From     string
	To       string
}

func (e InvalidTransitionError) Error() string {
	res := e.Resource
	if res == "" {
		res = "status"
	}
	return fmt.Sprintf("%s cannot move from %s to %s", res, e.From, e.To)
}

// ProviderUnavailableError is a transient payment provider failure (network,
// 5xx, rate limit). It never implies the payment failed.
type ProviderUnavailableError struct {
	RetryAfter time.Duration
	Msg        string
	Err        error
}

func (e ProviderUnavailableError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return "payment provider unavailable: " + e.Err.Error()
	}
	return "payment provider unavailable"
}

func (e ProviderUnavailableError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

// IsConflict also matches SeatTakenError and InvalidTransitionError.
func IsConflict(err error) bool {
	var target ConflictError
	if errors.As(err, &target) {
		return true
	}
	return IsSeatTaken(err) || IsInvalidTransition(err)
}

func IsSeatTaken(err error) bool {
	var target SeatTakenError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target InvalidTransitionError
	return errors.As(err, &target)
}

func IsProviderUnavailable(err error) bool {
	var target ProviderUnavailableError
	return errors.As(err, &target)
}

func IsForbidden(err error) bool {
	var target ForbiddenError
	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target InternalError
	return errors.As(err, &target)
}
